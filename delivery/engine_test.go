package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/store/memory"
)

func setupEngine(t *testing.T, handler http.Handler, maxAttempts int) (*memory.Store, *delivery.Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := memory.New()
	engine := delivery.NewEngine(store, testConfig(maxAttempts), nil)
	return store, engine, srv
}

func testConfig(maxAttempts int) delivery.EngineConfig {
	return delivery.EngineConfig{
		Concurrency:    4,
		PollInterval:   10 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    maxAttempts,
		BackoffBase:    5 * time.Millisecond,
		BackoffCap:     20 * time.Millisecond,
		ClaimLease:     time.Minute,
	}
}

func createEndpoint(t *testing.T, store *memory.Store, projectID, url string, types ...string) *endpoint.Endpoint {
	t.Helper()
	if len(types) == 0 {
		types = []string{"*"}
	}
	ep := &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		ProjectID:  projectID,
		URL:        url,
		Secret:     "whsec_test_secret_1234567890abcdef1234567890abcdef",
		EventTypes: types,
		Status:     endpoint.StatusActive,
	}
	if err := store.CreateEndpoint(context.Background(), ep); err != nil {
		t.Fatal(err)
	}
	return ep
}

func createEvent(t *testing.T, store *memory.Store, projectID, typ string) *event.Event {
	t.Helper()
	evt := &event.Event{
		Entity:    entity.New(),
		ID:        id.NewEventID(),
		ProjectID: projectID,
		PaymentID: id.NewPaymentID(),
		Type:      typ,
		Metadata:  map[string]any{"amount": 1000000, "currency": "USDC", "status": "CONFIRMED"},
	}
	if err := store.CreateEvent(context.Background(), evt); err != nil {
		t.Fatal(err)
	}
	return evt
}

// waitForCampaign polls until the (event, endpoint) campaign has a terminal
// DELIVERED or FAILED row and returns all rows ordered by attempt.
func waitForCampaign(t *testing.T, store *memory.Store, evtID, epID id.ID, timeout time.Duration) []*delivery.Delivery {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rows, err := store.ListByEvent(context.Background(), evtID)
		if err != nil {
			t.Fatal(err)
		}
		var campaign []*delivery.Delivery
		for _, d := range rows {
			if d.EndpointID.String() == epID.String() {
				campaign = append(campaign, d)
			}
		}
		if n := len(campaign); n > 0 {
			last := campaign[n-1].Status
			if last == delivery.StatusDelivered || last == delivery.StatusFailed {
				return campaign
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for campaign to finish")
	return nil
}

func statuses(rows []*delivery.Delivery) []delivery.Status {
	out := make([]delivery.Status, len(rows))
	for i, d := range rows {
		out[i] = d.Status
	}
	return out
}

func TestEngineDeliversOnFirstAttempt(t *testing.T) {
	var hits atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}), 5)

	ep := createEndpoint(t, store, "proj-1", srv.URL)
	evt := createEvent(t, store, "proj-1", event.TypePaymentConfirmed)

	ctx := context.Background()
	rows, err := engine.Dispatch(ctx, evt)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rows))
	}

	campaign := waitForCampaign(t, store, evt.ID, ep.ID, 2*time.Second)
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if len(campaign) != 1 || campaign[0].Status != delivery.StatusDelivered {
		t.Fatalf("campaign = %v", statuses(campaign))
	}
	if campaign[0].DeliveredAt == nil {
		t.Fatal("expected deliveredAt")
	}
	if code := campaign[0].HTTPStatusCode; code == nil || *code != http.StatusOK {
		t.Fatalf("http status = %v", code)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", hits.Load())
	}

	got, err := store.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastTimeHit == nil {
		t.Fatal("expected lastTimeHit to be stamped")
	}
}

func TestEngineRetriesFourTimesThenDelivers(t *testing.T) {
	var attempts atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 5)

	ep := createEndpoint(t, store, "proj-1", srv.URL)
	evt := createEvent(t, store, "proj-1", event.TypePaymentConfirmed)

	ctx := context.Background()
	engine.Start(ctx)
	if _, err := engine.Dispatch(ctx, evt); err != nil {
		t.Fatal(err)
	}

	campaign := waitForCampaign(t, store, evt.ID, ep.ID, 5*time.Second)
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	want := []delivery.Status{
		delivery.StatusRetrying, delivery.StatusRetrying, delivery.StatusRetrying,
		delivery.StatusRetrying, delivery.StatusDelivered,
	}
	got := statuses(campaign)
	if len(got) != len(want) {
		t.Fatalf("campaign = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("campaign = %v, want %v", got, want)
		}
		if campaign[i].AttemptNumber != i+1 {
			t.Fatalf("row %d has attempt %d", i, campaign[i].AttemptNumber)
		}
	}
	if code := campaign[0].HTTPStatusCode; code == nil || *code != http.StatusInternalServerError {
		t.Fatalf("first attempt status = %v", code)
	}
}

func TestEngineExhaustsAttempts(t *testing.T) {
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}), 3)

	ep := createEndpoint(t, store, "proj-1", srv.URL)
	evt := createEvent(t, store, "proj-1", event.TypePaymentFailed)

	ctx := context.Background()
	engine.Start(ctx)
	if _, err := engine.Dispatch(ctx, evt); err != nil {
		t.Fatal(err)
	}

	campaign := waitForCampaign(t, store, evt.ID, ep.ID, 5*time.Second)
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	got := statuses(campaign)
	if len(got) != 3 || got[0] != delivery.StatusRetrying || got[1] != delivery.StatusRetrying || got[2] != delivery.StatusFailed {
		t.Fatalf("campaign = %v", got)
	}
	if campaign[2].ResponseBody != "upstream down" {
		t.Fatalf("response body = %q", campaign[2].ResponseBody)
	}
}

func TestEngineRevokedEndpointEndsCampaign(t *testing.T) {
	var attempts atomic.Int32
	var store *memory.Store
	var epID id.ID

	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			// Revoke while the first attempt is in flight.
			if _, err := store.RevokeEndpoint(context.Background(), epID, time.Now().UTC()); err != nil {
				t.Error(err)
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}), 5)

	ep := createEndpoint(t, store, "proj-1", srv.URL)
	epID = ep.ID
	evt := createEvent(t, store, "proj-1", event.TypePaymentCreated)

	ctx := context.Background()
	engine.Start(ctx)
	if _, err := engine.Dispatch(ctx, evt); err != nil {
		t.Fatal(err)
	}

	campaign := waitForCampaign(t, store, evt.ID, ep.ID, 2*time.Second)
	// Give the poll loop a few ticks to prove nothing else is scheduled.
	time.Sleep(60 * time.Millisecond)
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if len(campaign) != 1 || campaign[0].Status != delivery.StatusFailed {
		t.Fatalf("campaign = %v", statuses(campaign))
	}
	if campaign[0].ErrorMessage != "endpoint revoked" {
		t.Fatalf("error = %q", campaign[0].ErrorMessage)
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", attempts.Load())
	}
}

// revokingStore revokes the endpoint immediately before a row is inserted,
// after every check the engine makes on its own.
type revokingStore struct {
	*memory.Store
	epID       id.ID
	onRetry    bool
	onDispatch bool
}

func (s *revokingStore) revoke(ctx context.Context) {
	if _, err := s.RevokeEndpoint(ctx, s.epID, time.Now().UTC()); err != nil {
		panic(err)
	}
}

func (s *revokingStore) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	if s.onRetry {
		s.revoke(ctx)
	}
	return s.Store.Enqueue(ctx, d)
}

func (s *revokingStore) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) ([]*delivery.Delivery, error) {
	if s.onDispatch {
		s.revoke(ctx)
	}
	return s.Store.EnqueueBatch(ctx, ds)
}

func TestEngineRevokeBeforeRetryInsert(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	mem := memory.New()
	ep := createEndpoint(t, mem, "proj-1", srv.URL)
	evt := createEvent(t, mem, "proj-1", event.TypePaymentCreated)
	store := &revokingStore{Store: mem, epID: ep.ID, onRetry: true}
	engine := delivery.NewEngine(store, testConfig(5), nil)

	ctx := context.Background()
	engine.Start(ctx)
	if _, err := engine.Dispatch(ctx, evt); err != nil {
		t.Fatal(err)
	}

	campaign := waitForCampaign(t, mem, evt.ID, ep.ID, 2*time.Second)
	time.Sleep(60 * time.Millisecond)
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	rows, err := mem.ListByEvent(ctx, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != delivery.StatusFailed {
		t.Fatalf("campaign = %v, want a single FAILED row", statuses(rows))
	}
	if campaign[0].ErrorMessage != "endpoint revoked" {
		t.Fatalf("error = %q", campaign[0].ErrorMessage)
	}

	revoked, err := mem.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range rows {
		if d.CreatedAt.After(*revoked.RevokedAt) {
			t.Fatalf("delivery %s created after revocation", d.ID)
		}
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", attempts.Load())
	}
}

func TestEngineRevokeBeforeDispatchInsert(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mem := memory.New()
	ep := createEndpoint(t, mem, "proj-1", srv.URL)
	evt := createEvent(t, mem, "proj-1", event.TypePaymentCreated)
	engine := delivery.NewEngine(&revokingStore{Store: mem, epID: ep.ID, onDispatch: true}, testConfig(5), nil)

	ctx := context.Background()
	rows, err := engine.Dispatch(ctx, evt)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(rows))
	}

	hist, err := mem.ListByEndpoint(ctx, ep.ID, delivery.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Fatalf("revoked endpoint has %d delivery rows", len(hist))
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no calls, got %d", hits.Load())
	}
}

func TestEngineIsolatesEndpoints(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer slow.Close()

	var fastHits atomic.Int32
	store, engine, fast := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fastHits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}), 2)

	good := createEndpoint(t, store, "proj-1", fast.URL, "payment.*")
	bad := createEndpoint(t, store, "proj-1", slow.URL)
	other := createEndpoint(t, store, "proj-2", fast.URL)
	unsubscribed := createEndpoint(t, store, "proj-1", fast.URL, "wallet.linked")
	evt := createEvent(t, store, "proj-1", event.TypePaymentConfirmed)

	ctx := context.Background()
	engine.Start(ctx)
	rows, err := engine.Dispatch(ctx, evt)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 subscribed endpoints, got %d", len(rows))
	}

	okCampaign := waitForCampaign(t, store, evt.ID, good.ID, 2*time.Second)
	badCampaign := waitForCampaign(t, store, evt.ID, bad.ID, 2*time.Second)
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if got := statuses(okCampaign); len(got) != 1 || got[0] != delivery.StatusDelivered {
		t.Fatalf("good campaign = %v", got)
	}
	if got := statuses(badCampaign); len(got) != 2 || got[1] != delivery.StatusFailed {
		t.Fatalf("bad campaign = %v", got)
	}
	for _, ep := range []*endpoint.Endpoint{other, unsubscribed} {
		hist, err := store.ListByEndpoint(ctx, ep.ID, delivery.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(hist) != 0 {
			t.Fatalf("endpoint %s should not receive deliveries", ep.ID)
		}
	}
}

func TestEngineSendTest(t *testing.T) {
	var gotType string
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("X-Payrelay-Event-Type")
		w.WriteHeader(http.StatusAccepted)
	}), 5)

	ep := createEndpoint(t, store, "proj-1", srv.URL)
	ctx := context.Background()

	res, err := engine.SendTest(ctx, ep.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.StatusCode != http.StatusAccepted {
		t.Fatalf("result = %+v", res)
	}
	if gotType != event.TypeWebhookTest {
		t.Fatalf("event type header = %q", gotType)
	}
	if n, _ := store.CountPending(ctx); n != 0 {
		t.Fatalf("test delivery must not be persisted, pending = %d", n)
	}

	if _, err := store.RevokeEndpoint(ctx, ep.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SendTest(ctx, ep.ID, nil); err != endpoint.ErrRevoked {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestEngineStopWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}), 5)

	ep := createEndpoint(t, store, "proj-1", srv.URL)
	evt := createEvent(t, store, "proj-1", event.TypePaymentCreated)

	ctx := context.Background()
	engine.Start(ctx)
	if _, err := engine.Dispatch(ctx, evt); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		close(release)
	}()
	if err := engine.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight attempt finished")
	}

	campaign := waitForCampaign(t, store, evt.ID, ep.ID, time.Second)
	if campaign[0].Status != delivery.StatusDelivered {
		t.Fatalf("status = %s", campaign[0].Status)
	}
}

func TestEngineStopHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}), 5)
	defer close(release)

	createEndpoint(t, store, "proj-1", srv.URL)
	evt := createEvent(t, store, "proj-1", event.TypePaymentCreated)

	if _, err := engine.Dispatch(context.Background(), evt); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := engine.Stop(ctx); err == nil {
		t.Fatal("expected deadline error while an attempt is blocked")
	}
}
