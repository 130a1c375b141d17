package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/signature"
)

func newTestEndpoint(url string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		ProjectID:  "proj-1",
		URL:        url,
		Secret:     "whsec_test_secret_1234567890abcdef1234567890abcdef",
		EventTypes: []string{"*"},
		Status:     endpoint.StatusActive,
	}
}

func newTestEvent() *event.Event {
	return &event.Event{
		Entity:    entity.New(),
		ID:        id.NewEventID(),
		ProjectID: "proj-1",
		PaymentID: id.NewPaymentID(),
		SessionID: "sess-1",
		Type:      event.TypePaymentConfirmed,
		Metadata:  map[string]any{"amount": 2500000, "currency": "USDT"},
	}
}

func TestSenderHappyPath(t *testing.T) {
	var receivedHeaders http.Header
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := delivery.NewSender(nil, 5*time.Second)
	ep := newTestEndpoint(srv.URL)
	evt := newTestEvent()
	delID := id.NewDeliveryID().String()

	result := sender.Send(context.Background(), ep, evt, delID, 2)

	if result.StatusCode != 200 || !result.Success() {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != `{"ok":true}` {
		t.Fatalf("unexpected response: %s", result.Response)
	}

	var env delivery.Envelope
	if err := json.Unmarshal(receivedBody, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != evt.ID.String() || env.Type != evt.Type {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Payload.PaymentID != evt.PaymentID.String() || env.Payload.SessionID != "sess-1" {
		t.Fatalf("payload = %+v", env.Payload)
	}
	if env.Payload.Metadata["currency"] != "USDT" {
		t.Fatalf("metadata = %v", env.Payload.Metadata)
	}

	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Fatal("missing Content-Type")
	}
	if receivedHeaders.Get("User-Agent") != "Payrelay/1.0" {
		t.Fatal("missing User-Agent")
	}
	if receivedHeaders.Get(signature.HeaderEventID) != evt.ID.String() {
		t.Fatal("missing event ID header")
	}
	if receivedHeaders.Get(signature.HeaderDeliveryID) != delID {
		t.Fatal("missing delivery ID header")
	}
	if receivedHeaders.Get(signature.HeaderAttempt) != "2" {
		t.Fatal("missing attempt header")
	}
	if !strings.HasPrefix(receivedHeaders.Get(signature.HeaderSignature), "v1=") {
		t.Fatal("signature should start with v1=")
	}
}

func TestSenderSignatureVerifiesAtReceiver(t *testing.T) {
	var verifyErr error
	ep := newTestEndpoint("")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifyErr = signature.VerifyHeaders(body, ep.Secret,
			r.Header.Get(signature.HeaderTimestamp), r.Header.Get(signature.HeaderSignature),
			time.Now(), 5*time.Minute)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	ep.URL = srv.URL

	delivery.NewSender(nil, 5*time.Second).Send(context.Background(), ep, newTestEvent(), "", 1)

	if verifyErr != nil {
		t.Fatalf("receiver verification failed: %v", verifyErr)
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The per-call bound applies even to a client without its own timeout.
	sender := delivery.NewSender(&http.Client{}, 50*time.Millisecond)
	result := sender.Send(context.Background(), newTestEndpoint(srv.URL), newTestEvent(), "", 1)

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on timeout, got %d", result.StatusCode)
	}
	if result.Error == "" {
		t.Fatal("expected error on timeout")
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	sender := delivery.NewSender(nil, 5*time.Second)
	result := sender.Send(context.Background(), newTestEndpoint("http://127.0.0.1:1"), newTestEvent(), "", 1)

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on connection refused, got %d", result.StatusCode)
	}
	if result.Error == "" {
		t.Fatal("expected error on connection refused")
	}
}

func TestSenderServerErrorCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	sender := delivery.NewSender(nil, 5*time.Second)
	result := sender.Send(context.Background(), newTestEndpoint(srv.URL), newTestEvent(), "", 1)

	if result.StatusCode != 500 || result.Success() {
		t.Fatalf("expected 500, got %d", result.StatusCode)
	}
	if len(result.Response) != 1024 {
		t.Fatalf("response should be capped at 1KB, got %d bytes", len(result.Response))
	}
	if result.Error == "" {
		t.Fatal("non-2xx should carry an error message")
	}
}
