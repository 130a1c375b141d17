package payrelay

import (
	"time"

	"github.com/xraph/payrelay/ratelimit"
)

// Config holds the configuration for a Relay instance.
type Config struct {
	// Concurrency is the maximum number of delivery attempts in flight.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// PollInterval is how often the engine looks for due retries.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// BatchSize is the maximum number of rows claimed per poll.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// RequestTimeout bounds every outbound webhook request.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`

	// MaxAttempts per delivery campaign, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// BackoffBase and BackoffCap shape the retry delay:
	// min(BackoffBase * 2^(attempt-1), BackoffCap).
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap"  yaml:"backoff_cap"  mapstructure:"backoff_cap"`

	// ClaimLease is how long a claimed delivery row may stay unfinished
	// before another worker takes it over.
	ClaimLease time.Duration `json:"claim_lease" yaml:"claim_lease" mapstructure:"claim_lease"`

	// ShutdownTimeout is the maximum time Stop waits for in-flight attempts.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// SweepInterval is the timeout sweep cadence.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" mapstructure:"sweep_interval"`

	// PaymentTimeout is how long a payment may stay PENDING.
	PaymentTimeout time.Duration `json:"payment_timeout" yaml:"payment_timeout" mapstructure:"payment_timeout"`

	// SweepGrace is added to PaymentTimeout before a payment is closed.
	// Zero means the default 20s; a negative value disables it.
	SweepGrace time.Duration `json:"sweep_grace" yaml:"sweep_grace" mapstructure:"sweep_grace"`

	// ChallengeWindow is how long a signed wallet challenge stays valid.
	ChallengeWindow time.Duration `json:"challenge_window" yaml:"challenge_window" mapstructure:"challenge_window"`

	// ChallengeSkew tolerates client clocks running ahead.
	ChallengeSkew time.Duration `json:"challenge_skew" yaml:"challenge_skew" mapstructure:"challenge_skew"`

	// Tiers are the admission budgets.
	Tiers ratelimit.Tiers `json:"tiers" yaml:"tiers" mapstructure:"tiers"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    time.Second,
		BatchSize:       50,
		RequestTimeout:  10 * time.Second,
		MaxAttempts:     5,
		BackoffBase:     5 * time.Second,
		BackoffCap:      10 * time.Minute,
		ClaimLease:      2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		SweepInterval:   time.Minute,
		PaymentTimeout:  15 * time.Minute,
		SweepGrace:      20 * time.Second,
		ChallengeWindow: 5 * time.Minute,
		ChallengeSkew:   30 * time.Second,
		Tiers:           ratelimit.DefaultTiers(),
	}
}
