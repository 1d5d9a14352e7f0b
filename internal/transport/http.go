package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGateway sends messages through the provider's JSON API
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewHTTPGateway creates a new HTTP provider gateway
func NewHTTPGateway(baseURL, apiKey, from string, timeout time.Duration) *HTTPGateway {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Subject    string   `json:"subject"`
	HTML       string   `json:"html"`
	CustomArgs Metadata `json:"custom_args"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send submits the message to the provider API
func (g *HTTPGateway) Send(ctx context.Context, req *Request) (*Result, error) {
	body := &sendRequest{
		From:       g.from,
		To:         req.Recipient,
		Subject:    req.Subject,
		HTML:       req.HTMLBody,
		CustomArgs: req.Metadata,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Temporary: false, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/mail/send", bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Temporary: false, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		// Network errors and timeouts follow the retry path
		return nil, &Error{Temporary: true, Message: fmt.Sprintf("provider request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorBody(resp.Body, resp.StatusCode)
		return nil, &Error{
			Temporary: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Message:   msg,
		}
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &Error{Temporary: true, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if sr.MessageID == "" {
		// Some providers return the ID in a header instead
		sr.MessageID = resp.Header.Get("X-Message-Id")
	}
	if sr.MessageID == "" {
		return nil, &Error{Temporary: true, Message: "provider returned no message id"}
	}

	return &Result{ProviderMessageID: sr.MessageID}, nil
}

func readErrorBody(r io.Reader, status int) string {
	var er sendResponse
	if err := json.NewDecoder(r).Decode(&er); err == nil && er.Error != "" {
		return fmt.Sprintf("provider rejected send: %s (HTTP %d)", er.Error, status)
	}
	return fmt.Sprintf("provider rejected send: HTTP %d", status)
}
