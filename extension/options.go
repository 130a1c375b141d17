package extension

import (
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/store"
	redisstore "github.com/xraph/payrelay/store/redis"
)

// ExtOption configures the payrelay extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithPrefix sets the URL prefix for all payrelay routes.
func WithPrefix(prefix string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = prefix
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithLogger sets the logger used by the Relay and the HTTP handler.
func WithLogger(logger *slog.Logger) ExtOption {
	return func(e *Extension) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRedis counts admission windows in Redis so every replica shares the
// same budgets.
func WithRedis(rdb goredis.UniversalClient) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, payrelay.WithRateLimitStore(redisstore.NewFromClient(rdb)))
	}
}

// WithRelayOption appends a raw payrelay.Option. Relay options are applied
// after the configuration, so they win over it.
func WithRelayOption(opt payrelay.Option) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, opt)
	}
}

// WithDisableRoutes disables route registration.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrations disables the schema migration run by Init.
func WithDisableMigrations() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}
