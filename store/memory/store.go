// Package memory provides an in-memory Store implementation for tests and
// single-process development.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/catalog"
	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/payment"
	"github.com/xraph/payrelay/walletlink"
	pstore "github.com/xraph/payrelay/store"
)

// compile-time interface check.
var _ pstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. Records are copied
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	payments        map[string]*payment.Payment    // keyed by ID string
	events          map[string]*event.Event        // keyed by ID string
	eventsByPayment map[string][]*event.Event      // keyed by payment ID string
	endpoints       map[string]*endpoint.Endpoint  // keyed by ID string
	deliveries      map[string]*delivery.Delivery  // keyed by ID string
	bindings        map[string]*walletlink.Binding // keyed by wallet address

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		payments:        make(map[string]*payment.Payment),
		events:          make(map[string]*event.Event),
		eventsByPayment: make(map[string][]*event.Event),
		endpoints:       make(map[string]*endpoint.Endpoint),
		deliveries:      make(map[string]*delivery.Delivery),
		bindings:        make(map[string]*walletlink.Binding),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return payrelay.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// payment.Store
// ──────────────────────────────────────────────────

// CreatePayment persists a new payment.
func (s *Store) CreatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments[p.ID.String()] = copyPayment(p)
	return nil
}

// GetPayment returns a payment by ID.
func (s *Store) GetPayment(_ context.Context, payID id.ID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[payID.String()]
	if !ok {
		return nil, payrelay.ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

// ListPayments returns a project's payments, newest first.
func (s *Store) ListPayments(_ context.Context, projectID string, opts payment.ListOpts) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, p := range s.payments {
		if p.ProjectID != projectID {
			continue
		}
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		result = append(result, copyPayment(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// TransitionPayment moves a PENDING payment to a terminal state.
func (s *Store) TransitionPayment(_ context.Context, payID id.ID, t payment.Transition, at time.Time) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[payID.String()]
	if !ok {
		return nil, payrelay.ErrPaymentNotFound
	}
	if p.Status != payment.StatusPending {
		return nil, payrelay.ErrPaymentNotPending
	}
	p.Status = t.To
	p.FailureReason = t.FailureReason
	p.TxSignature = t.TxSignature
	p.UpdatedAt = at.UTC()
	return copyPayment(p), nil
}

// TimeoutPending closes every PENDING payment with an event older than threshold.
func (s *Store) TimeoutPending(_ context.Context, threshold time.Time, reason string, at time.Time) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed []*payment.Payment
	for _, p := range s.payments {
		if p.Status != payment.StatusPending {
			continue
		}
		if !slices.ContainsFunc(s.eventsByPayment[p.ID.String()], func(e *event.Event) bool {
			return e.CreatedAt.Before(threshold)
		}) {
			continue
		}
		p.Status = payment.StatusTimedOut
		p.FailureReason = reason
		p.UpdatedAt = at.UTC()
		closed = append(closed, copyPayment(p))
	}
	return closed, nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyEvent(evt)
	s.events[evt.ID.String()] = cp
	if !evt.PaymentID.IsNil() {
		key := evt.PaymentID.String()
		s.eventsByPayment[key] = append(s.eventsByPayment[key], cp)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, payrelay.ErrEventNotFound
	}
	return copyEvent(evt), nil
}

// ListEvents returns events matching opts, newest first.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, evt := range s.events {
		if opts.ProjectID != "" && evt.ProjectID != opts.ProjectID {
			continue
		}
		if !opts.PaymentID.IsNil() && evt.PaymentID.String() != opts.PaymentID.String() {
			continue
		}
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		result = append(result, copyEvent(evt))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoints[ep.ID.String()] = copyEndpoint(ep)
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, payrelay.ErrEndpointNotFound
	}
	return copyEndpoint(ep), nil
}

// UpdateEndpoint overwrites the mutable fields of an endpoint.
func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.endpoints[ep.ID.String()]
	if !ok {
		return payrelay.ErrEndpointNotFound
	}
	cur.Description = ep.Description
	cur.EventTypes = slices.Clone(ep.EventTypes)
	cur.Secret = ep.Secret
	cur.Metadata = maps.Clone(ep.Metadata)
	cur.UpdatedAt = time.Now().UTC()
	ep.UpdatedAt = cur.UpdatedAt
	return nil
}

// ListEndpoints returns a project's endpoints, newest first.
func (s *Store) ListEndpoints(_ context.Context, projectID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*endpoint.Endpoint, 0)
	for _, ep := range s.endpoints {
		if ep.ProjectID != projectID {
			continue
		}
		if !opts.IncludeRevoked && !ep.Active() {
			continue
		}
		result = append(result, copyEndpoint(ep))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// Resolve returns the active endpoints of a project subscribed to eventType.
func (s *Store) Resolve(_ context.Context, projectID, eventType string) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.ProjectID != projectID || !ep.Active() {
			continue
		}
		if catalog.MatchAny(ep.EventTypes, eventType) {
			result = append(result, copyEndpoint(ep))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RevokeEndpoint marks an endpoint REVOKED. Repeated calls keep the first RevokedAt.
func (s *Store) RevokeEndpoint(_ context.Context, epID id.ID, at time.Time) (*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, payrelay.ErrEndpointNotFound
	}
	if ep.Active() {
		t := at.UTC()
		ep.Status = endpoint.StatusRevoked
		ep.RevokedAt = &t
		ep.UpdatedAt = t
	}
	return copyEndpoint(ep), nil
}

// TouchEndpoint stamps LastTimeHit.
func (s *Store) TouchEndpoint(_ context.Context, epID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return payrelay.ErrEndpointNotFound
	}
	t := at.UTC()
	ep.LastTimeHit = &t
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// Enqueue creates a delivery row, or returns ErrEndpointRevoked when the
// endpoint is no longer ACTIVE. The check and the insert share the lock
// RevokeEndpoint takes.
func (s *Store) Enqueue(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.endpointActive(d.EndpointID) {
		return payrelay.ErrEndpointRevoked
	}
	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// EnqueueBatch creates the rows whose endpoint is still ACTIVE and
// returns them.
func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]*delivery.Delivery, 0, len(ds))
	for _, d := range ds {
		if !s.endpointActive(d.EndpointID) {
			continue
		}
		s.deliveries[d.ID.String()] = copyDelivery(d)
		stored = append(stored, d)
	}
	return stored, nil
}

// endpointActive must be called with s.mu held.
func (s *Store) endpointActive(epID id.ID) bool {
	ep, ok := s.endpoints[epID.String()]
	return ok && ep.Active()
}

// Dequeue claims due PENDING rows that are unclaimed or whose claim is
// older than lease. The single lock stands in for SKIP LOCKED.
func (s *Store) Dequeue(_ context.Context, limit int, lease time.Duration) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	candidates := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.Status != delivery.StatusPending || d.NextAttemptAt.After(now) {
			continue
		}
		if d.ClaimedAt != nil && now.Sub(*d.ClaimedAt) < lease {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
	})
	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		claimed := now
		d.ClaimedAt = &claimed
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// UpdateDelivery writes the outcome of an attempt.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.ID.String()]; !ok {
		return payrelay.ErrDeliveryNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, payrelay.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// ListByEndpoint returns attempt history for an endpoint, newest first.
func (s *Store) ListByEndpoint(_ context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.EndpointID.String() != epID.String() {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].AttemptNumber > result[j].AttemptNumber
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ListByEvent returns every attempt for an event by endpoint, then attempt.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.EventID.String() == evtID.String() {
			result = append(result, copyDelivery(d))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if a, b := result[i].EndpointID.String(), result[j].EndpointID.String(); a != b {
			return a < b
		}
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result, nil
}

// CountPending returns the number of rows awaiting an attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusPending {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// walletlink.Store
// ──────────────────────────────────────────────────

// UpsertBinding writes b when its nonce is newer than the stored one.
func (s *Store) UpsertBinding(_ context.Context, b *walletlink.Binding) (*walletlink.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bindings[b.WalletAddress]
	if !ok {
		cp := *b
		s.bindings[b.WalletAddress] = &cp
		out := cp
		return &out, nil
	}
	if b.Nonce <= cur.Nonce {
		return nil, payrelay.ErrNonceReplayed
	}
	// The binding keeps its identity; ownership and proof are refreshed.
	cur.UserID = b.UserID
	cur.ProjectID = b.ProjectID
	cur.Nonce = b.Nonce
	cur.VerifiedAt = b.VerifiedAt
	cur.UpdatedAt = b.UpdatedAt
	out := *cur
	return &out, nil
}

// GetBinding returns the binding of a wallet.
func (s *Store) GetBinding(_ context.Context, walletAddress string) (*walletlink.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bindings[walletAddress]
	if !ok {
		return nil, payrelay.ErrBindingNotFound
	}
	out := *b
	return &out, nil
}

// ListBindings returns a user's bindings, most recently verified first.
func (s *Store) ListBindings(_ context.Context, userID string) ([]*walletlink.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*walletlink.Binding, 0)
	for _, b := range s.bindings {
		if b.UserID == userID {
			out := *b
			result = append(result, &out)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].VerifiedAt.After(result[j].VerifiedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyPayment(p *payment.Payment) *payment.Payment {
	cp := *p
	return &cp
}

func copyEvent(evt *event.Event) *event.Event {
	cp := *evt
	cp.Metadata = maps.Clone(evt.Metadata)
	return &cp
}

func copyEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	cp := *ep
	cp.EventTypes = slices.Clone(ep.EventTypes)
	cp.Metadata = maps.Clone(ep.Metadata)
	if ep.LastTimeHit != nil {
		t := *ep.LastTimeHit
		cp.LastTimeHit = &t
	}
	if ep.RevokedAt != nil {
		t := *ep.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	if d.HTTPStatusCode != nil {
		c := *d.HTTPStatusCode
		cp.HTTPStatusCode = &c
	}
	if d.ClaimedAt != nil {
		t := *d.ClaimedAt
		cp.ClaimedAt = &t
	}
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset > 0 && offset >= len(items) {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
