package sqlite

import (
	"context"

	// Registers the SQLite migration executor.
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the payrelay store (SQLite).
var Migrations = migrate.NewGroup("payrelay")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_payrelay_payments",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payrelay_payments (
    id             TEXT PRIMARY KEY,
    project_id     TEXT NOT NULL,
    session_id     TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'PENDING',
    currency       TEXT NOT NULL,
    amount         INTEGER NOT NULL CHECK (amount > 0),
    failure_reason TEXT NOT NULL DEFAULT '',
    tx_signature   TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_payrelay_payments_project ON payrelay_payments (project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_payrelay_payments_status ON payrelay_payments (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payrelay_payments`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_payrelay_events",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payrelay_events (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    payment_id TEXT REFERENCES payrelay_payments (id),
    session_id TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL,
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_payrelay_events_project ON payrelay_events (project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_payrelay_events_payment ON payrelay_events (payment_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payrelay_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_payrelay_endpoints",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payrelay_endpoints (
    id            TEXT PRIMARY KEY,
    project_id    TEXT NOT NULL,
    url           TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    secret        TEXT NOT NULL,
    event_types   TEXT NOT NULL DEFAULT '["*"]',
    status        TEXT NOT NULL DEFAULT 'ACTIVE',
    last_time_hit TEXT,
    revoked_at    TEXT,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_payrelay_endpoints_project ON payrelay_endpoints (project_id, status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payrelay_endpoints`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_payrelay_deliveries",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payrelay_deliveries (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL REFERENCES payrelay_events (id),
    endpoint_id      TEXT NOT NULL REFERENCES payrelay_endpoints (id),
    attempt_number   INTEGER NOT NULL DEFAULT 1,
    max_attempts     INTEGER NOT NULL DEFAULT 5,
    status           TEXT NOT NULL DEFAULT 'PENDING',
    http_status_code INTEGER,
    error_message    TEXT NOT NULL DEFAULT '',
    response_body    TEXT NOT NULL DEFAULT '',
    latency_ms       INTEGER NOT NULL DEFAULT 0,
    next_attempt_at  TEXT NOT NULL DEFAULT (datetime('now')),
    claimed_at       TEXT,
    delivered_at     TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (event_id, endpoint_id, attempt_number)
);

CREATE INDEX IF NOT EXISTS idx_payrelay_deliveries_due ON payrelay_deliveries (status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_payrelay_deliveries_endpoint ON payrelay_deliveries (endpoint_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payrelay_deliveries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_payrelay_wallet_bindings",
			Version: "20250301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payrelay_wallet_bindings (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    project_id     TEXT NOT NULL DEFAULT '',
    wallet_address TEXT NOT NULL UNIQUE,
    nonce          INTEGER NOT NULL,
    verified_at    TEXT NOT NULL,
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_payrelay_wallet_bindings_user ON payrelay_wallet_bindings (user_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payrelay_wallet_bindings`)
				return err
			},
		},
	)
}
