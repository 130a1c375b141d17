package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/signature"
)

const (
	maxResponseBody = 1024 // 1KB cap on response body storage

	// DefaultRequestTimeout bounds a single webhook call.
	DefaultRequestTimeout = 10 * time.Second

	userAgent = "Payrelay/1.0"
)

// Envelope is the JSON body POSTed to endpoints.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   EnvelopeFields `json:"payload"`
}

// EnvelopeFields carries the event fields receivers act on.
type EnvelopeFields struct {
	ProjectID string         `json:"project_id"`
	PaymentID string         `json:"payment_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEnvelope builds the outbound body for evt.
func NewEnvelope(evt *event.Event) Envelope {
	return Envelope{
		ID:        evt.ID.String(),
		Type:      evt.Type,
		Timestamp: evt.CreatedAt,
		Payload: EnvelopeFields{
			ProjectID: evt.ProjectID,
			PaymentID: evt.PaymentID.String(),
			SessionID: evt.SessionID,
			Metadata:  evt.Metadata,
		},
	}
}

// Sender performs signed HTTP webhook calls.
type Sender struct {
	client  *http.Client
	timeout time.Duration
}

// NewSender creates a sender. A nil client uses a dedicated http.Client;
// every call is bounded by timeout regardless of the client's own settings.
func NewSender(client *http.Client, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Sender{client: client, timeout: timeout}
}

// Send posts evt to ep as attempt number attempt of delivery deliveryID.
func (s *Sender) Send(ctx context.Context, ep *endpoint.Endpoint, evt *event.Event, deliveryID string, attempt int) Result {
	body, err := json.Marshal(NewEnvelope(evt))
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(signature.HeaderEventID, evt.ID.String())
	req.Header.Set(signature.HeaderEventType, evt.Type)
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signature.HeaderSignature, signature.Sign(body, ep.Secret, ts))
	if deliveryID != "" {
		req.Header.Set(signature.HeaderDeliveryID, deliveryID)
	}
	if attempt > 0 {
		req.Header.Set(signature.HeaderAttempt, strconv.Itoa(attempt))
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a merchant-registered webhook destination.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		return Result{Error: err.Error(), LatencyMs: latency}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  latency,
		}
	}

	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  latency,
	}
	if !res.Success() {
		res.Error = fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return res
}
