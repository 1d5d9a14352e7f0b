package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/dispatch"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/event"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// EventsResponse is the response for POST /accounts/{accountID}/events
type EventsResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
}

// DispatchResponse is the response for POST /dispatch
type DispatchResponse struct {
	Success   bool              `json:"success"`
	Processed int               `json:"processed"`
	Results   []dispatch.Result `json:"results"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string              `json:"status"`
	Uptime string              `json:"uptime"`
	Queue  *model.MessageStats `json:"queue,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleEvents ingests a batch of provider callback events. The
// response is 200 once every event has been attempted; per-event
// failures never fail the call. Only authentication, rate limiting and
// a malformed payload reject the whole batch.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		s.sendError(w, http.StatusBadRequest, "account id is required")
		return
	}

	if res := s.limiter.CheckAndConsume(r.Context(), accountID); !res.Allowed {
		s.sendError(w, http.StatusTooManyRequests, res.Reason)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	events, err := event.ParseBatch(body)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	processed := s.processor.ProcessBatch(r.Context(), events)

	s.sendJSON(w, http.StatusOK, &EventsResponse{
		Success:   true,
		Processed: processed,
	})
}

// handleDispatch runs one dispatch batch. External schedulers hit this
// route on a fixed interval.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.worker.RunBatch(r.Context())
	if err != nil {
		s.logger.Error("dispatch batch failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "dispatch batch failed")
		return
	}

	s.sendJSON(w, http.StatusOK, &DispatchResponse{
		Success:   true,
		Processed: result.Processed,
		Results:   result.Results,
	})
}

// handleMessage returns the delivery state of a single message
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := s.messages.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get message", "message_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if msg == nil {
		s.sendError(w, http.StatusNotFound, "message not found")
		return
	}

	s.sendJSON(w, http.StatusOK, msg)
}

// handleHealth returns server health and queue statistics
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := &HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}

	stats, err := s.messages.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get message stats", "error", err)
	} else {
		resp.Queue = stats
	}

	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, &ErrorResponse{Error: msg})
}
