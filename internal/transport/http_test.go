package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testRequest() *Request {
	return &Request{
		Recipient: "user@test.com",
		Subject:   "hello",
		HTMLBody:  "<p>hi</p>",
		Metadata: Metadata{
			MessageID:  "m1",
			CampaignID: "c1",
			AccountID:  "acct-1",
		},
	}
}

func TestHTTPGatewaySend(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/mail/send" {
			t.Errorf("path = %v, want /v1/mail/send", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %v, want Bearer test-key", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"message_id": "prov-123"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key", "noreply@test.com", 5*time.Second)
	res, err := g.Send(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if res.ProviderMessageID != "prov-123" {
		t.Errorf("ProviderMessageID = %v, want prov-123", res.ProviderMessageID)
	}
	if got.From != "noreply@test.com" {
		t.Errorf("from = %v, want noreply@test.com", got.From)
	}
	if got.To != "user@test.com" {
		t.Errorf("to = %v, want user@test.com", got.To)
	}
	if got.CustomArgs.MessageID != "m1" {
		t.Errorf("custom_args.message_id = %v, want m1", got.CustomArgs.MessageID)
	}
}

func TestHTTPGatewayHeaderFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Message-Id", "hdr-456")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key", "noreply@test.com", 5*time.Second)
	res, err := g.Send(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ProviderMessageID != "hdr-456" {
		t.Errorf("ProviderMessageID = %v, want hdr-456", res.ProviderMessageID)
	}
}

func TestHTTPGatewayServerErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"upstream unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key", "noreply@test.com", 5*time.Second)
	_, err := g.Send(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Send() succeeded on a 503, want error")
	}
	if !IsTemporary(err) {
		t.Error("IsTemporary() = false for a 503, want true")
	}
}

func TestHTTPGatewayClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid recipient"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key", "noreply@test.com", 5*time.Second)
	_, err := g.Send(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Send() succeeded on a 400, want error")
	}
	if IsTemporary(err) {
		t.Error("IsTemporary() = true for a 400, want false")
	}
}

func TestHTTPGatewayRateLimitIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"slow down"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key", "noreply@test.com", 5*time.Second)
	_, err := g.Send(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Send() succeeded on a 429, want error")
	}
	if !IsTemporary(err) {
		t.Error("IsTemporary() = false for a 429, want true")
	}
}

func TestHTTPGatewayNetworkErrorIsTemporary(t *testing.T) {
	g := NewHTTPGateway("http://127.0.0.1:1", "test-key", "noreply@test.com", time.Second)
	_, err := g.Send(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Send() succeeded against a closed port, want error")
	}
	if !IsTemporary(err) {
		t.Error("IsTemporary() = false for a network error, want true")
	}
}

func TestIsTemporaryUnclassified(t *testing.T) {
	if !IsTemporary(errors.New("something opaque")) {
		t.Error("IsTemporary() = false for an unclassified error, want true")
	}
	if IsTemporary(&Error{Temporary: false, Message: "rejected"}) {
		t.Error("IsTemporary() = true for an explicit permanent error, want false")
	}
}
