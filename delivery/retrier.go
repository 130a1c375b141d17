package delivery

import "time"

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the endpoint answered 2xx.
	Delivered Decision = iota

	// Retry means a new attempt row should be scheduled.
	Retry

	// Fail means the campaign is over.
	Fail
)

// Default backoff: 5s, 10s, 20s, ... capped at 10 minutes.
const (
	DefaultBackoffBase = 5 * time.Second
	DefaultBackoffCap  = 10 * time.Minute
	DefaultMaxAttempts = 5
)

// Result holds the outcome of a single HTTP attempt. StatusCode is 0 when
// no response arrived (network error, timeout).
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// Success reports whether the endpoint answered 2xx.
func (r Result) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Retrier decides what happens after an attempt and when the next one is due.
type Retrier struct {
	base    time.Duration
	ceiling time.Duration
}

// NewRetrier creates a retrier with exponential backoff from base, capped.
func NewRetrier(base, ceiling time.Duration) *Retrier {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling < base {
		ceiling = max(DefaultBackoffCap, base)
	}
	return &Retrier{base: base, ceiling: ceiling}
}

// Decide determines what to do after an attempt.
//
//   - 2xx → Delivered
//   - anything else (non-2xx, network error, timeout) → Retry while
//     attempts remain and the endpoint is still active, else Fail
func (r *Retrier) Decide(res Result, d *Delivery, endpointActive bool) Decision {
	if res.Success() {
		return Delivered
	}
	if d.AttemptNumber < d.MaxAttempts && endpointActive {
		return Retry
	}
	return Fail
}

// Backoff returns the delay before the attempt that follows attempt n:
// base·2^(n−1), capped.
func (r *Retrier) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := r.base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= r.ceiling || d <= 0 {
			return r.ceiling
		}
	}
	if d > r.ceiling {
		return r.ceiling
	}
	return d
}

// NextAttemptAt returns when the attempt following attempt n is due.
func (r *Retrier) NextAttemptAt(now time.Time, n int) time.Time {
	return now.UTC().Add(r.Backoff(n))
}
