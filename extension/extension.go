// Package extension mounts payrelay into a host application.
//
// The extension:
//   - builds the Relay from a Config and an injected store
//   - runs the store migrations on Init
//   - serves the public and admin HTTP routes under a configurable prefix
//   - registers the admin routes with OpenAPI metadata on a Forge router
//   - starts the delivery engine and timeout sweep, and stops them gracefully
//
// Usage:
//
//	cfg, err := extension.LoadConfig("payrelay.yaml", ".env")
//	ext := extension.New(
//	    extension.WithConfig(cfg),
//	    extension.WithStore(pgStore),
//	    extension.WithRedis(rdb),
//	)
//	if err := ext.Init(ctx); err != nil { ... }
//	ext.Start(ctx)
//	defer ext.Stop(ctx)
//	mux.Handle("/payrelay/", ext.Handler())
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xraph/forge"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/api"
	"github.com/xraph/payrelay/store"
)

// ErrNotInitialized is returned when the extension is used before Init.
var ErrNotInitialized = errors.New("payrelay: extension not initialized")

// Extension owns a Relay and its HTTP surfaces.
type Extension struct {
	config Config
	store  store.Store
	opts   []payrelay.Option
	logger *slog.Logger

	relay *payrelay.Relay
}

// New creates the extension. Call Init before use.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init builds the Relay and migrates the store unless DisableMigrate is set.
func (e *Extension) Init(ctx context.Context) error {
	opts := append(e.config.ToOptions(),
		payrelay.WithStore(e.store),
		payrelay.WithLogger(e.logger),
	)
	r, err := payrelay.New(append(opts, e.opts...)...)
	if err != nil {
		return err
	}

	if !e.config.DisableMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("payrelay: migrate: %w", err)
		}
	}

	e.relay = r
	return nil
}

// Relay returns the underlying Relay, or nil before Init.
func (e *Extension) Relay() *payrelay.Relay { return e.relay }

// Config returns the extension configuration.
func (e *Extension) Config() Config { return e.config }

// Prefix returns the configured URL prefix.
func (e *Extension) Prefix() string { return strings.TrimRight(e.config.BasePath, "/") }

// Start runs the delivery engine and the timeout sweep.
func (e *Extension) Start(ctx context.Context) error {
	if e.relay == nil {
		return ErrNotInitialized
	}
	e.relay.Start(ctx)
	e.logger.InfoContext(ctx, "payrelay started", "prefix", e.Prefix())
	return nil
}

// Stop drains in-flight deliveries within the configured shutdown timeout.
func (e *Extension) Stop(ctx context.Context) error {
	if e.relay == nil {
		return nil
	}
	return e.relay.Stop(ctx)
}

// Health checks the store connection.
func (e *Extension) Health(ctx context.Context) error {
	if e.relay == nil {
		return ErrNotInitialized
	}
	return e.relay.Store().Ping(ctx)
}

// Handler serves the payrelay routes under Prefix. It can be used without
// Forge. It returns nil before Init.
func (e *Extension) Handler(opts ...api.HandlerOption) http.Handler {
	if e.relay == nil {
		return nil
	}
	h := api.NewHandler(e.relay, e.logger, opts...)
	if p := e.Prefix(); p != "" {
		return http.StripPrefix(p, h)
	}
	return h
}

// RegisterRoutes mounts the admin routes on a Forge router under Prefix,
// unless DisableRoutes is set.
func (e *Extension) RegisterRoutes(router forge.Router, log forge.Logger) error {
	if e.relay == nil {
		return ErrNotInitialized
	}
	if e.config.DisableRoutes {
		return nil
	}
	api.NewForgeAPI(e.relay, log).RegisterRoutes(router.Group(e.Prefix()))
	return nil
}
