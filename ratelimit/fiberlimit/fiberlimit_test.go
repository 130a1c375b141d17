package fiberlimit

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payrelay/ratelimit"
)

func newApp(ctrl *ratelimit.Controller, tier ratelimit.Tier, opts ...Option) *fiber.App {
	app := fiber.New()
	api := app.Group("/api", New(ctrl, tier, opts...))
	api.Post("/payments", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app
}

func TestFiberLimitRejectsOverLimit(t *testing.T) {
	ctrl := ratelimit.NewController(ratelimit.NewMemoryStore())
	app := newApp(ctrl, ratelimit.Tier{Name: "payment", Window: time.Minute, Limit: 2})

	send := func() (int, []byte, string) {
		req := httptest.NewRequest("POST", "/api/payments", nil)
		req.Header.Set("X-API-Key", "merchant-1")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, body, resp.Header.Get(ratelimit.HeaderRemaining)
	}

	code, _, remaining := send()
	assert.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "1", remaining)

	code, _, _ = send()
	assert.Equal(t, fiber.StatusCreated, code)

	code, body, remaining := send()
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	assert.Equal(t, "0", remaining)

	var rej ratelimit.Rejection
	require.NoError(t, json.Unmarshal(body, &rej))
	assert.Equal(t, "Rate limit exceeded", rej.Error)
	assert.Equal(t, 2, rej.Limit)
}

func TestFiberLimitSuspicion(t *testing.T) {
	ctrl := ratelimit.NewController(ratelimit.NewMemoryStore(),
		ratelimit.WithTiers(ratelimit.Tiers{Suspicious: ratelimit.Tier{Limit: 1}}))
	app := newApp(ctrl, ctrl.Tiers().Payment, WithSuspicion(func(c *fiber.Ctx) bool {
		return c.Get("X-Flagged") == "1"
	}))

	send := func(flagged bool) int {
		req := httptest.NewRequest("POST", "/api/payments", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		if flagged {
			req.Header.Set("X-Flagged", "1")
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusCreated, send(true))
	assert.Equal(t, fiber.StatusTooManyRequests, send(true))
	assert.Equal(t, fiber.StatusCreated, send(false))
}

func TestFiberLimitRetryAfterUsesDecisionTime(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		at := now
		now = now.Add(time.Second)
		return at
	}
	ctrl := ratelimit.NewController(ratelimit.NewMemoryStore(), ratelimit.WithClock(tick))
	app := newApp(ctrl, ratelimit.Tier{Name: "payment", Window: time.Minute, Limit: 1})

	send := func() (int, string) {
		req := httptest.NewRequest("POST", "/api/payments", nil)
		req.Header.Set("X-API-Key", "merchant-1")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode, resp.Header.Get(ratelimit.HeaderRetryAfter)
	}

	code, _ := send()
	require.Equal(t, fiber.StatusCreated, code)
	code, retry := send()
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	assert.Equal(t, "59", retry)
}
