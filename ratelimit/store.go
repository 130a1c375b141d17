package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the oldest counted request leaves the window, i.e. the
	// earliest time a rejected caller can be admitted again.
	Reset time.Time
	// At is the instant the request was counted. Retry-After is measured
	// from it so the headers agree with Reset.
	At time.Time
}

// Store keeps the sliding windows. Take must be atomic per key against
// concurrent callers, including callers in other processes for shared
// implementations.
type Store interface {
	// Take counts a request at now against key if fewer than limit
	// requests were counted in (now−window, now]. Rejected requests are not
	// counted.
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}
