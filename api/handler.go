// Package api provides the payrelay HTTP surfaces: a net/http Handler with
// admission-controlled public routes plus admin routes, and a Forge API
// exposing the admin routes with OpenAPI metadata.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/payment"
	"github.com/xraph/payrelay/ratelimit"
	"github.com/xraph/payrelay/walletlink"
)

// Handler is the root HTTP handler for payrelay.
type Handler struct {
	relay     *payrelay.Relay
	logger    *slog.Logger
	mux       *http.ServeMux
	admitOpts []ratelimit.MiddlewareOption
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAdmissionOptions passes options to the admission middleware of the
// public routes, such as a suspicion predicate.
func WithAdmissionOptions(opts ...ratelimit.MiddlewareOption) HandlerOption {
	return func(h *Handler) { h.admitOpts = append(h.admitOpts, opts...) }
}

// NewHandler creates the HTTP handler for r.
func NewHandler(r *payrelay.Relay, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		relay:  r,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	tiers := h.relay.Admission().Tiers()

	// Wallets
	h.public("POST /wallets/challenge", tiers.General, h.walletChallenge)
	h.public("POST /wallets/confirm", tiers.Payment, h.walletConfirm)

	// Payments
	h.public("POST /payments", tiers.Payment, h.createPayment)
	h.public("GET /payments/{id}", tiers.General, h.getPayment)
	h.public("POST /payments/{id}/confirm", tiers.Payment, h.confirmPayment)
	h.public("POST /payments/{id}/fail", tiers.Payment, h.failPayment)

	// Endpoints
	h.mux.HandleFunc("POST /projects/{projectID}/endpoints", h.createEndpoint)
	h.mux.HandleFunc("GET /projects/{projectID}/endpoints", h.listEndpoints)
	h.mux.HandleFunc("GET /endpoints/{id}", h.getEndpoint)
	h.mux.HandleFunc("PATCH /endpoints/{id}", h.updateEndpoint)
	h.mux.HandleFunc("DELETE /endpoints/{id}", h.revokeEndpoint)
	h.mux.HandleFunc("POST /endpoints/{id}/test", h.testEndpoint)
	h.mux.HandleFunc("POST /endpoints/{id}/rotate-secret", h.rotateSecret)

	// Deliveries
	h.mux.HandleFunc("GET /endpoints/{id}/deliveries", h.listEndpointDeliveries)
	h.mux.HandleFunc("GET /events/{id}/deliveries", h.listEventDeliveries)

	// Events
	h.mux.HandleFunc("GET /events/{id}", h.getEvent)
	h.mux.HandleFunc("GET /projects/{projectID}/events", h.listEvents)

	// Payments (admin)
	h.mux.HandleFunc("GET /projects/{projectID}/payments", h.listPayments)
	h.mux.HandleFunc("POST /sweeps", h.runSweep)

	// Catalog
	h.mux.HandleFunc("GET /event-types", h.listEventTypes)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// public mounts fn behind the admission controller for tier.
func (h *Handler) public(pattern string, tier ratelimit.Tier, fn http.HandlerFunc) {
	mw := ratelimit.Middleware(h.relay.Admission(), tier, h.admitOpts...)
	h.mux.Handle(pattern, mw(fn))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

// writeServiceError maps service and store errors to a status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		epVal  *endpoint.ValidationError
		payVal *payment.ValidationError
		wlVal  *walletlink.ValidationError
	)
	switch {
	case errors.As(err, &epVal):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Field: epVal.Field, Message: epVal.Message})
	case errors.As(err, &payVal):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Field: payVal.Field, Message: payVal.Message})
	case errors.As(err, &wlVal):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Field: wlVal.Field, Message: wlVal.Message})
	case isVerificationError(err):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Wallet verification failed", Message: err.Error()})
	case errors.Is(err, payrelay.ErrPaymentNotFound),
		errors.Is(err, payrelay.ErrEndpointNotFound),
		errors.Is(err, payrelay.ErrEventNotFound),
		errors.Is(err, payrelay.ErrDeliveryNotFound),
		errors.Is(err, payrelay.ErrBindingNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found", Message: err.Error()})
	case errors.Is(err, payrelay.ErrPaymentNotPending),
		errors.Is(err, payrelay.ErrEndpointRevoked),
		errors.Is(err, payrelay.ErrSweepInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Conflict", Message: err.Error()})
	case errors.Is(err, payrelay.ErrEventTypeNotFound),
		errors.Is(err, payrelay.ErrEventTypeDeprecated),
		errors.Is(err, payrelay.ErrPayloadValidationFailed):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid event", Message: err.Error()})
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// isVerificationError reports whether err is a failed wallet proof.
func isVerificationError(err error) bool {
	return errors.Is(err, walletlink.ErrMissingField) ||
		errors.Is(err, walletlink.ErrSignatureLength) ||
		errors.Is(err, walletlink.ErrChallengeExpired) ||
		errors.Is(err, walletlink.ErrChallengeFromFuture) ||
		errors.Is(err, walletlink.ErrInvalidAddress) ||
		errors.Is(err, walletlink.ErrInvalidSignature) ||
		errors.Is(err, payrelay.ErrNonceReplayed)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a non-negative query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
