package api_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/api"
	"github.com/xraph/payrelay/ratelimit"
	"github.com/xraph/payrelay/store/memory"
	"github.com/xraph/payrelay/walletlink"
)

// testServer creates a Handler backed by a memory store and returns the test server.
func testServer(t *testing.T, opts ...payrelay.Option) *httptest.Server {
	t.Helper()

	r, err := payrelay.New(append([]payrelay.Option{payrelay.WithStore(memory.New())}, opts...)...)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	srv := httptest.NewServer(api.NewHandler(r, slog.Default()))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int, what string) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("%s: expected %d, got %d: %s", what, want, resp.StatusCode, b)
	}
}

// signedProof signs the challenge for nonce and returns the confirm body.
func signedProof(priv ed25519.PrivateKey, address string, nonce int64) map[string]any {
	sig := ed25519.Sign(priv, []byte(walletlink.ChallengeMessage(address, nonce)))
	values := make([]int, len(sig))
	for i, b := range sig {
		values[i] = int(b)
	}
	return map[string]any{
		"user_id":    "user_1",
		"project_id": "proj_1",
		"publicKey":  address,
		"signature":  values,
		"timestamp":  nonce,
	}
}

// --- Wallets ---

func TestWalletLinkFlow(t *testing.T) {
	srv := testServer(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	address := walletlink.EncodeAddress(pub)

	resp := doJSON(t, "POST", srv.URL+"/wallets/challenge", map[string]any{"publicKey": address})
	expectStatus(t, resp, http.StatusOK, "challenge")
	var ch walletlink.Challenge
	decodeBody(t, resp, &ch)
	if ch.Message != walletlink.ChallengeMessage(address, ch.Nonce) {
		t.Fatalf("unexpected challenge message %q", ch.Message)
	}

	proof := signedProof(priv, address, ch.Nonce)
	resp = doJSON(t, "POST", srv.URL+"/wallets/confirm", proof)
	expectStatus(t, resp, http.StatusOK, "confirm")
	var binding map[string]any
	decodeBody(t, resp, &binding)
	if binding["wallet_address"] != address {
		t.Fatalf("expected binding for %s, got %v", address, binding)
	}

	// The same proof cannot link twice.
	resp = doJSON(t, "POST", srv.URL+"/wallets/confirm", proof)
	expectStatus(t, resp, http.StatusUnauthorized, "replay")
	var problem map[string]any
	decodeBody(t, resp, &problem)
	if problem["error"] == nil || problem["message"] == nil {
		t.Fatalf("expected error and message, got %v", problem)
	}
}

func TestWalletConfirmRejectsBadProofs(t *testing.T) {
	srv := testServer(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	address := walletlink.EncodeAddress(pub)
	now := time.Now().UnixMilli()

	short := signedProof(priv, address, now)
	short["signature"] = []int{1, 2, 3}

	stale := signedProof(priv, address, time.Now().Add(-10*time.Minute).UnixMilli())

	_, other, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	forged := signedProof(other, address, now)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"short signature", short},
		{"expired challenge", stale},
		{"wrong key", forged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, "POST", srv.URL+"/wallets/confirm", tt.body)
			expectStatus(t, resp, http.StatusUnauthorized, tt.name)
			resp.Body.Close()
		})
	}

	resp := doJSON(t, "POST", srv.URL+"/wallets/challenge", map[string]any{"publicKey": "not-base58-0OIl"})
	expectStatus(t, resp, http.StatusBadRequest, "bad address")
	resp.Body.Close()
}

// --- Payments ---

func TestPaymentLifecycle(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/payments", map[string]any{
		"project_id": "proj_1",
		"currency":   "USDC",
		"amount":     2500000,
	})
	expectStatus(t, resp, http.StatusCreated, "create")
	var p map[string]any
	decodeBody(t, resp, &p)
	payID, _ := p["id"].(string)
	if p["status"] != "PENDING" || payID == "" {
		t.Fatalf("unexpected payment %v", p)
	}

	resp = doJSON(t, "GET", srv.URL+"/payments/"+payID, nil)
	expectStatus(t, resp, http.StatusOK, "get")
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/payments/"+payID+"/confirm", map[string]any{"tx_signature": "5VERv8NMvz"})
	expectStatus(t, resp, http.StatusOK, "confirm")
	decodeBody(t, resp, &p)
	if p["status"] != "CONFIRMED" {
		t.Fatalf("expected CONFIRMED, got %v", p["status"])
	}

	// Terminal states are final.
	resp = doJSON(t, "POST", srv.URL+"/payments/"+payID+"/fail", map[string]any{"reason": "late"})
	expectStatus(t, resp, http.StatusConflict, "fail after confirm")
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/projects/proj_1/payments", nil)
	expectStatus(t, resp, http.StatusOK, "list")
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(list))
	}
}

func TestPaymentErrors(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/payments", map[string]any{
		"project_id": "proj_1",
		"currency":   "DOGE",
		"amount":     10,
	})
	expectStatus(t, resp, http.StatusBadRequest, "bad currency")
	var problem map[string]any
	decodeBody(t, resp, &problem)
	if problem["field"] != "currency" {
		t.Fatalf("expected field currency, got %v", problem)
	}

	resp = doJSON(t, "GET", srv.URL+"/payments/pay_01h455vb4pex5vsknk084sn02q", nil)
	expectStatus(t, resp, http.StatusNotFound, "unknown payment")
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/payments/not-an-id", nil)
	expectStatus(t, resp, http.StatusBadRequest, "bad id")
	resp.Body.Close()
}

func TestSweepRoute(t *testing.T) {
	later := time.Now().Add(time.Hour)
	srv := testServer(t, payrelay.WithClock(func() time.Time { return later }))

	resp := doJSON(t, "POST", srv.URL+"/payments", map[string]any{
		"project_id": "proj_1",
		"currency":   "USDT",
		"amount":     1000,
	})
	expectStatus(t, resp, http.StatusCreated, "create")
	var p map[string]any
	decodeBody(t, resp, &p)

	resp = doJSON(t, "POST", srv.URL+"/sweeps", nil)
	expectStatus(t, resp, http.StatusOK, "sweep")
	var out map[string]any
	decodeBody(t, resp, &out)
	if out["timed_out"] != float64(1) {
		t.Fatalf("expected 1 timed out, got %v", out)
	}

	resp = doJSON(t, "GET", srv.URL+"/payments/"+p["id"].(string), nil)
	expectStatus(t, resp, http.StatusOK, "get")
	decodeBody(t, resp, &p)
	if p["status"] != "TIMED_OUT" {
		t.Fatalf("expected TIMED_OUT, got %v", p["status"])
	}
}

// --- Endpoints ---

func TestEndpointAdmin(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/projects/proj_1/endpoints", map[string]any{
		"url":         "https://merchant.example.com/hooks",
		"event_types": []string{"payment.*"},
	})
	expectStatus(t, resp, http.StatusCreated, "register")
	var reg struct {
		Endpoint map[string]any `json:"endpoint"`
		Secret   string         `json:"secret"`
	}
	decodeBody(t, resp, &reg)
	epID, _ := reg.Endpoint["id"].(string)
	if epID == "" || len(reg.Secret) < len("whsec_") || reg.Secret[:6] != "whsec_" {
		t.Fatalf("unexpected registration %+v", reg)
	}
	if _, leaked := reg.Endpoint["secret"]; leaked {
		t.Fatal("endpoint body must not carry the secret")
	}

	resp = doJSON(t, "GET", srv.URL+"/endpoints/"+epID, nil)
	expectStatus(t, resp, http.StatusOK, "get")
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/endpoints/"+epID+"/deliveries", nil)
	expectStatus(t, resp, http.StatusOK, "deliveries")
	resp.Body.Close()

	resp = doJSON(t, "DELETE", srv.URL+"/endpoints/"+epID, nil)
	expectStatus(t, resp, http.StatusOK, "revoke")
	var ep map[string]any
	decodeBody(t, resp, &ep)
	if ep["status"] != "REVOKED" {
		t.Fatalf("expected REVOKED, got %v", ep["status"])
	}

	// Revocation is idempotent, rotation of a revoked endpoint is refused.
	resp = doJSON(t, "DELETE", srv.URL+"/endpoints/"+epID, nil)
	expectStatus(t, resp, http.StatusOK, "revoke again")
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/endpoints/"+epID+"/rotate-secret", nil)
	expectStatus(t, resp, http.StatusConflict, "rotate revoked")
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/projects/proj_1/endpoints", nil)
	expectStatus(t, resp, http.StatusOK, "list")
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("revoked endpoints are hidden by default, got %d", len(list))
	}
}

func TestEndpointTestSend(t *testing.T) {
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer receiver.Close()

	srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/projects/proj_1/endpoints", map[string]any{"url": receiver.URL})
	expectStatus(t, resp, http.StatusCreated, "register")
	var reg struct {
		Endpoint map[string]any `json:"endpoint"`
	}
	decodeBody(t, resp, &reg)

	resp = doJSON(t, "POST", srv.URL+"/endpoints/"+reg.Endpoint["id"].(string)+"/test", nil)
	expectStatus(t, resp, http.StatusOK, "test")
	var res map[string]any
	decodeBody(t, resp, &res)
	if res["success"] != true || res["status_code"] != float64(http.StatusAccepted) {
		t.Fatalf("unexpected test result %v", res)
	}
}

// --- Admission ---

func TestPublicRoutesAreAdmissionControlled(t *testing.T) {
	srv := testServer(t, payrelay.WithTiers(ratelimit.Tiers{
		Payment: ratelimit.Tier{Name: "payment", Window: time.Minute, Limit: 2},
	}))

	body := map[string]any{"project_id": "proj_1", "currency": "USDC", "amount": 1}
	for i := range 2 {
		resp := doJSON(t, "POST", srv.URL+"/payments", body)
		expectStatus(t, resp, http.StatusCreated, "admitted")
		if got := resp.Header.Get(ratelimit.HeaderRemaining); got != []string{"1", "0"}[i] {
			t.Fatalf("request %d: expected remaining %s, got %s", i+1, []string{"1", "0"}[i], got)
		}
		resp.Body.Close()
	}

	resp := doJSON(t, "POST", srv.URL+"/payments", body)
	expectStatus(t, resp, http.StatusTooManyRequests, "third request")
	if resp.Header.Get(ratelimit.HeaderRetryAfter) == "" {
		t.Fatal("expected Retry-After header")
	}
	var rej ratelimit.Rejection
	decodeBody(t, resp, &rej)
	if rej.Error != "Rate limit exceeded" || rej.Limit != 2 || rej.Remaining != 0 {
		t.Fatalf("unexpected rejection %+v", rej)
	}

	// Admin routes are not counted against public tiers.
	resp = doJSON(t, "GET", srv.URL+"/projects/proj_1/payments", nil)
	expectStatus(t, resp, http.StatusOK, "admin list")
	resp.Body.Close()
}

// --- Catalog ---

func TestEventTypes(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/event-types", nil)
	expectStatus(t, resp, http.StatusOK, "list")
	var list []map[string]any
	decodeBody(t, resp, &list)
	names := make(map[string]bool, len(list))
	for _, et := range list {
		name, _ := et["name"].(string)
		names[name] = true
	}
	for _, want := range []string{"payment.created", "payment.timed_out", "wallet.linked"} {
		if !names[want] {
			t.Fatalf("expected %s in catalog, got %v", want, names)
		}
	}
}
