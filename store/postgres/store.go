package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/catalog"
	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/payment"
	pstore "github.com/xraph/payrelay/store"
	"github.com/xraph/payrelay/walletlink"
)

// compile-time interface check
var _ pstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("payrelay/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("payrelay/postgres: %w: %w", payrelay.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.pg.NewInsert(toPaymentModel(p)).Exec(ctx)
	return err
}

func (s *Store) GetPayment(ctx context.Context, payID id.ID) (*payment.Payment, error) {
	m := new(paymentModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", payID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, payrelay.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) ListPayments(ctx context.Context, projectID string, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel
	q := s.pg.NewSelect(&models).Where("project_id = $1", projectID)
	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromPaymentModels(models)
}

// TransitionPayment uses a conditional UPDATE so two concurrent
// transitions cannot both succeed.
func (s *Store) TransitionPayment(ctx context.Context, payID id.ID, t payment.Transition, at time.Time) (*payment.Payment, error) {
	var models []paymentModel
	err := s.pg.NewRaw(`
		UPDATE payrelay_payments
		SET status = $1, failure_reason = $2, tx_signature = $3, updated_at = $4
		WHERE id = $5 AND status = 'PENDING'
		RETURNING *
	`, string(t.To), t.FailureReason, t.TxSignature, at.UTC(), payID.String()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		// Either missing or already terminal.
		if _, getErr := s.GetPayment(ctx, payID); getErr != nil {
			return nil, getErr
		}
		return nil, payrelay.ErrPaymentNotPending
	}
	return fromPaymentModel(&models[0])
}

// TimeoutPending closes stale sessions in one statement. The status guard
// in the WHERE clause keeps concurrent sweeps from double-closing a payment.
func (s *Store) TimeoutPending(ctx context.Context, threshold time.Time, reason string, at time.Time) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.pg.NewRaw(`
		UPDATE payrelay_payments AS p
		SET status = 'TIMED_OUT', failure_reason = $1, updated_at = $2
		WHERE p.status = 'PENDING'
		  AND EXISTS (
			SELECT 1 FROM payrelay_events e
			WHERE e.payment_id = p.id AND e.created_at < $3
		  )
		RETURNING p.*
	`, reason, at.UTC(), threshold.UTC()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromPaymentModels(models)
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m, err := toEventModel(evt)
	if err != nil {
		return err
	}
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, payrelay.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.ProjectID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("project_id = $%d", argIdx), opts.ProjectID)
	}
	if !opts.PaymentID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("payment_id = $%d", argIdx), opts.PaymentID.String())
	}
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Endpoint Store ====================

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	_, err := s.pg.NewInsert(toEndpointModel(ep)).Exec(ctx)
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", epID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, payrelay.ErrEndpointNotFound
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

// UpdateEndpoint writes only the mutable columns so a concurrent revoke is
// never undone by a stale read.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	metadata, err := json.Marshal(ep.Metadata)
	if err != nil {
		return fmt.Errorf("encode endpoint metadata: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("description = $1", ep.Description).
		Set("event_types = $2", ep.EventTypes).
		Set("secret = $3", ep.Secret).
		Set("metadata = $4", metadata).
		Set("updated_at = $5", now).
		Where("id = $6", ep.ID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return payrelay.ErrEndpointNotFound
	}
	ep.UpdatedAt = now
	return nil
}

func (s *Store) ListEndpoints(ctx context.Context, projectID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.pg.NewSelect(&models).Where("project_id = $1", projectID)
	if !opts.IncludeRevoked {
		q = q.Where("status = 'ACTIVE'")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromEndpointModels(models)
}

// Resolve loads the active endpoints of the project and filters patterns in
// Go, since glob subscriptions do not map onto an index.
func (s *Store) Resolve(ctx context.Context, projectID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.pg.NewSelect(&models).
		Where("project_id = $1", projectID).
		Where("status = 'ACTIVE'").
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*endpoint.Endpoint
	for i := range models {
		if !catalog.MatchAny(models[i].EventTypes, eventType) {
			continue
		}
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}
	return result, nil
}

func (s *Store) RevokeEndpoint(ctx context.Context, epID id.ID, at time.Time) (*endpoint.Endpoint, error) {
	t := at.UTC()
	if _, err := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("status = 'REVOKED'").
		Set("revoked_at = $1", t).
		Set("updated_at = $2", t).
		Where("id = $3", epID.String()).
		Where("status = 'ACTIVE'").
		Exec(ctx); err != nil {
		return nil, err
	}
	return s.GetEndpoint(ctx, epID)
}

func (s *Store) TouchEndpoint(ctx context.Context, epID id.ID, at time.Time) error {
	res, err := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("last_time_hit = $1", at.UTC()).
		Where("id = $2", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return payrelay.ErrEndpointNotFound
	}
	return nil
}

// ==================== Delivery Store ====================

// insertDeliverySQL writes a delivery only while its endpoint is ACTIVE.
// FOR SHARE makes a concurrent revoke wait for this insert, or this insert
// see the revoke.
const insertDeliverySQL = `
	INSERT INTO payrelay_deliveries (
		id, event_id, endpoint_id, attempt_number, max_attempts, status,
		http_status_code, error_message, response_body, latency_ms,
		next_attempt_at, claimed_at, delivered_at, created_at, updated_at
	)
	SELECT $1::text, $2::text, $3::text, $4::int, $5::int, $6::text,
		$7::int, $8::text, $9::text, $10::int,
		$11::timestamptz, $12::timestamptz, $13::timestamptz, $14::timestamptz, $15::timestamptz
	WHERE EXISTS (
		SELECT 1 FROM payrelay_endpoints
		WHERE id = $3::text AND status = 'ACTIVE'
		FOR SHARE
	)
`

type rawQuerier interface {
	NewRaw(query string, args ...any) *pgdriver.RawQuery
}

// insertDelivery reports whether the row was written.
func insertDelivery(ctx context.Context, q rawQuerier, d *delivery.Delivery) (bool, error) {
	m := toDeliveryModel(d)
	res, err := q.NewRaw(insertDeliverySQL,
		m.ID, m.EventID, m.EndpointID, m.AttemptNumber, m.MaxAttempts, m.Status,
		m.HTTPStatusCode, m.ErrorMessage, m.ResponseBody, m.LatencyMs,
		m.NextAttemptAt, m.ClaimedAt, m.DeliveredAt, m.CreatedAt, m.UpdatedAt,
	).Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Enqueue creates a delivery row, or returns ErrEndpointRevoked when the
// endpoint is no longer ACTIVE.
func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	ok, err := insertDelivery(ctx, s.pg, d)
	if err != nil {
		return err
	}
	if !ok {
		return payrelay.ErrEndpointRevoked
	}
	return nil
}

// EnqueueBatch creates the rows whose endpoint is still ACTIVE in one
// transaction and returns them.
func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) ([]*delivery.Delivery, error) {
	if len(ds) == 0 {
		return nil, nil
	}
	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stored := make([]*delivery.Delivery, 0, len(ds))
	for _, d := range ds {
		ok, insErr := insertDelivery(ctx, tx, d)
		if insErr != nil {
			return nil, insErr
		}
		if ok {
			stored = append(stored, d)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// Dequeue claims due rows with FOR UPDATE SKIP LOCKED so concurrent
// workers never receive the same row. A claim older than lease is treated
// as abandoned.
func (s *Store) Dequeue(ctx context.Context, limit int, lease time.Duration) ([]*delivery.Delivery, error) {
	now := time.Now().UTC()
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE payrelay_deliveries
		SET claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM payrelay_deliveries
			WHERE status = 'PENDING'
			  AND next_attempt_at <= $1
			  AND (claimed_at IS NULL OR claimed_at < $2)
			ORDER BY next_attempt_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, now.Add(-lease), limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return payrelay.ErrDeliveryNotFound
	}
	d.UpdatedAt = m.UpdatedAt
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", delID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, payrelay.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListByEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("endpoint_id = $1", epID.String())
	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, attempt_number DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", evtID.String()).
		OrderExpr("endpoint_id ASC, attempt_number ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	return s.pg.NewSelect((*deliveryModel)(nil)).
		Where("status = $1", string(delivery.StatusPending)).
		Count(ctx)
}

// ==================== Wallet Binding Store ====================

// UpsertBinding relies on the conflict clause's WHERE: a stale or equal
// nonce leaves the row untouched and RETURNING yields nothing.
func (s *Store) UpsertBinding(ctx context.Context, b *walletlink.Binding) (*walletlink.Binding, error) {
	m := toBindingModel(b)
	var models []bindingModel
	err := s.pg.NewRaw(`
		INSERT INTO payrelay_wallet_bindings
			(id, user_id, project_id, wallet_address, nonce, verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (wallet_address) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			project_id = EXCLUDED.project_id,
			nonce = EXCLUDED.nonce,
			verified_at = EXCLUDED.verified_at,
			updated_at = EXCLUDED.updated_at
		WHERE payrelay_wallet_bindings.nonce < EXCLUDED.nonce
		RETURNING *
	`, m.ID, m.UserID, m.ProjectID, m.WalletAddress, m.Nonce, m.VerifiedAt, m.CreatedAt, m.UpdatedAt).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, payrelay.ErrNonceReplayed
	}
	return fromBindingModel(&models[0])
}

func (s *Store) GetBinding(ctx context.Context, walletAddress string) (*walletlink.Binding, error) {
	m := new(bindingModel)
	err := s.pg.NewSelect(m).
		Where("wallet_address = $1", walletAddress).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, payrelay.ErrBindingNotFound
		}
		return nil, err
	}
	return fromBindingModel(m)
}

func (s *Store) ListBindings(ctx context.Context, userID string) ([]*walletlink.Binding, error) {
	var models []bindingModel
	if err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		OrderExpr("verified_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*walletlink.Binding, len(models))
	for i := range models {
		b, err := fromBindingModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
