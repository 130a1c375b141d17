package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/payment"
	"github.com/xraph/payrelay/walletlink"
)

func ctx() context.Context { return context.Background() }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, payrelay.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// payment.Store
// ──────────────────────────────────────────────────

func newPayment(s *Store, t *testing.T, created time.Time) *payment.Payment {
	t.Helper()
	p := &payment.Payment{
		Entity:    entity.At(created),
		ID:        id.NewPaymentID(),
		ProjectID: "proj-1",
		SessionID: "sess",
		Status:    payment.StatusPending,
		Currency:  payment.CurrencyUSDC,
		Amount:    1_000_000,
	}
	if err := s.CreatePayment(ctx(), p); err != nil {
		t.Fatal(err)
	}
	evt := &event.Event{
		Entity:    entity.At(created),
		ID:        id.NewEventID(),
		ProjectID: p.ProjectID,
		PaymentID: p.ID,
		Type:      event.TypePaymentCreated,
	}
	if err := s.CreateEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestTransitionPayment(t *testing.T) {
	s := New()
	p := newPayment(s, t, time.Now())

	got, err := s.TransitionPayment(ctx(), p.ID, payment.Transition{To: payment.StatusConfirmed, TxSignature: "5xyz"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != payment.StatusConfirmed || got.TxSignature != "5xyz" {
		t.Fatalf("got %+v", got)
	}

	_, err = s.TransitionPayment(ctx(), p.ID, payment.Transition{To: payment.StatusFailed, FailureReason: "x"}, time.Now())
	if !errors.Is(err, payrelay.ErrPaymentNotPending) {
		t.Fatalf("expected ErrPaymentNotPending, got %v", err)
	}

	_, err = s.TransitionPayment(ctx(), id.NewPaymentID(), payment.Transition{To: payment.StatusFailed}, time.Now())
	if !errors.Is(err, payrelay.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestTimeoutPending(t *testing.T) {
	s := New()
	t1 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	old := newPayment(s, t, t1)
	fresh := newPayment(s, t, t1.Add(10*time.Minute))
	done := newPayment(s, t, t1)
	if _, err := s.TransitionPayment(ctx(), done.ID, payment.Transition{To: payment.StatusConfirmed}, t1); err != nil {
		t.Fatal(err)
	}
	// A PENDING payment with no events is never eligible.
	orphan := &payment.Payment{Entity: entity.At(t1), ID: id.NewPaymentID(), ProjectID: "proj-1", Status: payment.StatusPending}
	if err := s.CreatePayment(ctx(), orphan); err != nil {
		t.Fatal(err)
	}

	now := t1.Add(16 * time.Minute)
	threshold := now.Add(-(15*time.Minute + 20*time.Second))
	closed, err := s.TimeoutPending(ctx(), threshold, payment.TimeoutReason, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0].ID.String() != old.ID.String() {
		t.Fatalf("expected only the old payment, got %d", len(closed))
	}
	if closed[0].Status != payment.StatusTimedOut || closed[0].FailureReason != payment.TimeoutReason {
		t.Fatalf("got %+v", closed[0])
	}

	again, err := s.TimeoutPending(ctx(), threshold, payment.TimeoutReason, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second run should change nothing, got %d", len(again))
	}

	for _, p := range []*payment.Payment{fresh, orphan} {
		got, _ := s.GetPayment(ctx(), p.ID)
		if got.Status != payment.StatusPending {
			t.Fatalf("payment %s should still be pending", p.ID)
		}
	}
	got, _ := s.GetPayment(ctx(), done.ID)
	if got.Status != payment.StatusConfirmed {
		t.Fatal("terminal payment must not change")
	}
}

func TestListPayments(t *testing.T) {
	s := New()
	base := time.Now().Add(-time.Hour)
	for i := range 3 {
		newPayment(s, t, base.Add(time.Duration(i)*time.Minute))
	}

	all, err := s.ListPayments(ctx(), "proj-1", payment.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || !all[0].CreatedAt.After(all[1].CreatedAt) {
		t.Fatal("expected 3 payments, newest first")
	}

	page, _ := s.ListPayments(ctx(), "proj-1", payment.ListOpts{Offset: 2, Limit: 5})
	if len(page) != 1 {
		t.Fatalf("expected 1 on last page, got %d", len(page))
	}
	none, _ := s.ListPayments(ctx(), "proj-1", payment.ListOpts{Status: payment.StatusFailed})
	if len(none) != 0 {
		t.Fatal("status filter ignored")
	}
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

func newEndpoint(s *Store, t *testing.T, projectID string, types ...string) *endpoint.Endpoint {
	t.Helper()
	ep := &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		ProjectID:  projectID,
		URL:        "https://merchant.example/hook",
		Secret:     "whsec_x",
		EventTypes: types,
		Status:     endpoint.StatusActive,
	}
	if err := s.CreateEndpoint(ctx(), ep); err != nil {
		t.Fatal(err)
	}
	return ep
}

func TestResolveAndRevoke(t *testing.T) {
	s := New()
	all := newEndpoint(s, t, "proj-1", "*")
	pay := newEndpoint(s, t, "proj-1", "payment.*")
	wal := newEndpoint(s, t, "proj-1", "wallet.linked")
	newEndpoint(s, t, "proj-2", "*")

	got, err := s.Resolve(ctx(), "proj-1", "payment.confirmed")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(got))
	}

	first, err := s.RevokeEndpoint(ctx(), pay.ID, time.Unix(100, 0))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.RevokeEndpoint(ctx(), pay.ID, time.Unix(200, 0))
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != endpoint.StatusRevoked || !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Fatal("revoke should be idempotent and keep the first timestamp")
	}

	got, _ = s.Resolve(ctx(), "proj-1", "payment.confirmed")
	if len(got) != 1 || got[0].ID.String() != all.ID.String() {
		t.Fatal("revoked endpoint must not resolve")
	}

	listed, _ := s.ListEndpoints(ctx(), "proj-1", endpoint.ListOpts{})
	if len(listed) != 2 {
		t.Fatalf("revoked endpoints are pruned from listings, got %d", len(listed))
	}
	listed, _ = s.ListEndpoints(ctx(), "proj-1", endpoint.ListOpts{IncludeRevoked: true})
	if len(listed) != 3 {
		t.Fatalf("expected 3 with revoked, got %d", len(listed))
	}

	if err := s.TouchEndpoint(ctx(), wal.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	ep, _ := s.GetEndpoint(ctx(), wal.ID)
	if ep.LastTimeHit == nil {
		t.Fatal("expected lastTimeHit")
	}

	if _, err := s.GetEndpoint(ctx(), id.NewEndpointID()); !errors.Is(err, payrelay.ErrEndpointNotFound) {
		t.Fatalf("expected ErrEndpointNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func newDelivery(evtID, epID id.ID, attempt int, due time.Time, claimed *time.Time) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		EventID:       evtID,
		EndpointID:    epID,
		AttemptNumber: attempt,
		MaxAttempts:   5,
		Status:        delivery.StatusPending,
		NextAttemptAt: due,
		ClaimedAt:     claimed,
	}
}

func TestDequeueClaimsAndHonoursLease(t *testing.T) {
	s := New()
	evtID := id.NewEventID()
	epID := newEndpoint(s, t, "proj-1", "*").ID
	now := time.Now().UTC()
	stale := now.Add(-time.Hour)
	recent := now.Add(-time.Second)

	due := newDelivery(evtID, epID, 1, now.Add(-time.Second), nil)
	future := newDelivery(evtID, epID, 2, now.Add(time.Hour), nil)
	abandoned := newDelivery(evtID, newEndpoint(s, t, "proj-1", "*").ID, 1, now.Add(-time.Minute), &stale)
	inflight := newDelivery(evtID, newEndpoint(s, t, "proj-1", "*").ID, 1, now.Add(-time.Minute), &recent)
	if _, err := s.EnqueueBatch(ctx(), []*delivery.Delivery{due, future, abandoned, inflight}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Dequeue(ctx(), 10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected due + abandoned rows, got %d", len(got))
	}
	for _, d := range got {
		if d.ClaimedAt == nil {
			t.Fatal("dequeued rows must be claimed")
		}
	}

	again, _ := s.Dequeue(ctx(), 10, time.Minute)
	if len(again) != 0 {
		t.Fatalf("claimed rows must not be handed out twice, got %d", len(again))
	}

	n, _ := s.CountPending(ctx())
	if n != 4 {
		t.Fatalf("pending = %d, want 4", n)
	}

	due.Status = delivery.StatusDelivered
	if err := s.UpdateDelivery(ctx(), due); err != nil {
		t.Fatal(err)
	}
	n, _ = s.CountPending(ctx())
	if n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}
}

func TestListByEventOrdersCampaign(t *testing.T) {
	s := New()
	evtID := id.NewEventID()
	epID := newEndpoint(s, t, "proj-1", "*").ID
	for _, n := range []int{3, 1, 2} {
		if err := s.Enqueue(ctx(), newDelivery(evtID, epID, n, time.Now(), nil)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListByEvent(ctx(), evtID)
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range got {
		if d.AttemptNumber != i+1 {
			t.Fatalf("row %d has attempt %d", i, d.AttemptNumber)
		}
	}

	hist, _ := s.ListByEndpoint(ctx(), epID, delivery.ListOpts{Limit: 2})
	if len(hist) != 2 {
		t.Fatalf("expected 2, got %d", len(hist))
	}
}

func TestEnqueueRequiresActiveEndpoint(t *testing.T) {
	s := New()
	evtID := id.NewEventID()
	live := newEndpoint(s, t, "proj-1", "*")
	gone := newEndpoint(s, t, "proj-1", "*")
	revokedAt := time.Now().UTC()
	if _, err := s.RevokeEndpoint(ctx(), gone.ID, revokedAt); err != nil {
		t.Fatal(err)
	}

	err := s.Enqueue(ctx(), newDelivery(evtID, gone.ID, 2, time.Now(), nil))
	if !errors.Is(err, payrelay.ErrEndpointRevoked) {
		t.Fatalf("expected ErrEndpointRevoked, got %v", err)
	}
	err = s.Enqueue(ctx(), newDelivery(evtID, id.NewEndpointID(), 1, time.Now(), nil))
	if !errors.Is(err, payrelay.ErrEndpointRevoked) {
		t.Fatalf("unknown endpoint: expected ErrEndpointRevoked, got %v", err)
	}

	stored, err := s.EnqueueBatch(ctx(), []*delivery.Delivery{
		newDelivery(evtID, live.ID, 1, time.Now(), nil),
		newDelivery(evtID, gone.ID, 1, time.Now(), nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].EndpointID.String() != live.ID.String() {
		t.Fatalf("expected only the live endpoint's row, got %d", len(stored))
	}

	hist, _ := s.ListByEndpoint(ctx(), gone.ID, delivery.ListOpts{})
	if len(hist) != 0 {
		t.Fatalf("revoked endpoint has %d rows", len(hist))
	}
}

// ──────────────────────────────────────────────────
// walletlink.Store
// ──────────────────────────────────────────────────

func TestUpsertBindingNonceIsSingleUse(t *testing.T) {
	s := New()
	b := &walletlink.Binding{
		Entity:        entity.New(),
		ID:            id.NewWalletBindingID(),
		UserID:        "user-1",
		WalletAddress: "W1",
		Nonce:         1000,
		VerifiedAt:    time.Now(),
	}
	first, err := s.UpsertBinding(ctx(), b)
	if err != nil {
		t.Fatal(err)
	}

	replay := *b
	if _, err := s.UpsertBinding(ctx(), &replay); !errors.Is(err, payrelay.ErrNonceReplayed) {
		t.Fatalf("expected ErrNonceReplayed, got %v", err)
	}

	newer := *b
	newer.ID = id.NewWalletBindingID()
	newer.UserID = "user-2"
	newer.Nonce = 2000
	got, err := s.UpsertBinding(ctx(), &newer)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != first.ID.String() || got.UserID != "user-2" {
		t.Fatalf("rebind should keep the binding ID and move ownership, got %+v", got)
	}

	list, _ := s.ListBindings(ctx(), "user-1")
	if len(list) != 0 {
		t.Fatal("user-1 no longer owns the wallet")
	}
	if _, err := s.GetBinding(ctx(), "missing"); !errors.Is(err, payrelay.ErrBindingNotFound) {
		t.Fatalf("expected ErrBindingNotFound, got %v", err)
	}
}
