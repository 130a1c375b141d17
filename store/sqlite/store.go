package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM. SQLite
// serializes writers, which is what makes the claim and sweep statements
// below safe without row locks.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("payrelay/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("payrelay/sqlite: %w: %w", payrelay.ErrMigrationFailed, err)
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
	_, err := s.sdb.NewInsert(toPaymentModel(p)).Exec(ctx)
	return err
}

func (s *Store) GetPayment(ctx context.Context, payID id.ID) (*payment.Payment, error) {
	var models []paymentModel
	if err := s.sdb.NewSelect(&models).
		Where("id = ?", payID.String()).
		Limit(1).
		Scan(ctx); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, payrelay.ErrPaymentNotFound
	}
	ps, err := fromPaymentModels(models)
	if err != nil {
		return nil, err
	}
	return ps[0], nil
}

func (s *Store) ListPayments(ctx context.Context, projectID string, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel
	q := s.sdb.NewSelect(&models).Where("project_id = ?", projectID)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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

func (s *Store) TransitionPayment(ctx context.Context, payID id.ID, t payment.Transition, at time.Time) (*payment.Payment, error) {
	var models []paymentModel
	err := s.sdb.NewRaw(`
		UPDATE payrelay_payments
		SET status = ?, failure_reason = ?, tx_signature = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'
		RETURNING *
	`, string(t.To), t.FailureReason, t.TxSignature, stampOf(at), payID.String()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		if _, getErr := s.GetPayment(ctx, payID); getErr != nil {
			return nil, getErr
		}
		return nil, payrelay.ErrPaymentNotPending
	}
	ps, err := fromPaymentModels(models)
	if err != nil {
		return nil, err
	}
	return ps[0], nil
}

func (s *Store) TimeoutPending(ctx context.Context, threshold time.Time, reason string, at time.Time) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.sdb.NewRaw(`
		UPDATE payrelay_payments
		SET status = 'TIMED_OUT', failure_reason = ?, updated_at = ?
		WHERE status = 'PENDING'
		  AND EXISTS (
			SELECT 1 FROM payrelay_events e
			WHERE e.payment_id = payrelay_payments.id AND e.created_at < ?
		  )
		RETURNING *
	`, reason, stampOf(at), stampOf(threshold)).Scan(ctx, &models)
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
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", evtID.String()).
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
	q := s.sdb.NewSelect(&models)
	if opts.ProjectID != "" {
		q = q.Where("project_id = ?", opts.ProjectID)
	}
	if !opts.PaymentID.IsNil() {
		q = q.Where("payment_id = ?", opts.PaymentID.String())
	}
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
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
	_, err := s.sdb.NewInsert(toEndpointModel(ep)).Exec(ctx)
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", epID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, payrelay.ErrEndpointNotFound
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	eventTypes, err := json.Marshal(ep.EventTypes)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(ep.Metadata)
	if err != nil {
		return err
	}
	ts := now()
	res, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("description = ?", ep.Description).
		Set("event_types = ?", string(eventTypes)).
		Set("secret = ?", ep.Secret).
		Set("metadata = ?", string(metadata)).
		Set("updated_at = ?", stampOf(ts)).
		Where("id = ?", ep.ID.String()).
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
	ep.UpdatedAt = ts
	return nil
}

func (s *Store) ListEndpoints(ctx context.Context, projectID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.sdb.NewSelect(&models).Where("project_id = ?", projectID)
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

	result := make([]*endpoint.Endpoint, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ep
	}
	return result, nil
}

func (s *Store) Resolve(ctx context.Context, projectID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.sdb.NewSelect(&models).
		Where("project_id = ?", projectID).
		Where("status = 'ACTIVE'").
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*endpoint.Endpoint
	for i := range models {
		if !catalog.MatchAny(models[i].eventTypes(), eventType) {
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
	t := stampOf(at)
	if _, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("status = 'REVOKED'").
		Set("revoked_at = ?", t).
		Set("updated_at = ?", t).
		Where("id = ?", epID.String()).
		Where("status = 'ACTIVE'").
		Exec(ctx); err != nil {
		return nil, err
	}
	return s.GetEndpoint(ctx, epID)
}

func (s *Store) TouchEndpoint(ctx context.Context, epID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("last_time_hit = ?", stampOf(at)).
		Where("id = ?", epID.String()).
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
const insertDeliverySQL = `
	INSERT INTO payrelay_deliveries (
		id, event_id, endpoint_id, attempt_number, max_attempts, status,
		http_status_code, error_message, response_body, latency_ms,
		next_attempt_at, claimed_at, delivered_at, created_at, updated_at
	)
	SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
	WHERE EXISTS (
		SELECT 1 FROM payrelay_endpoints WHERE id = ? AND status = 'ACTIVE'
	)
`

type rawQuerier interface {
	NewRaw(query string, args ...any) *sqlitedriver.RawQuery
}

// insertDelivery reports whether the row was written.
func insertDelivery(ctx context.Context, q rawQuerier, d *delivery.Delivery) (bool, error) {
	m := toDeliveryModel(d)
	res, err := q.NewRaw(insertDeliverySQL,
		m.ID, m.EventID, m.EndpointID, m.AttemptNumber, m.MaxAttempts, m.Status,
		m.HTTPStatusCode, m.ErrorMessage, m.ResponseBody, m.LatencyMs,
		m.NextAttemptAt, m.ClaimedAt, m.DeliveredAt, m.CreatedAt, m.UpdatedAt,
		m.EndpointID,
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
	ok, err := insertDelivery(ctx, s.sdb, d)
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
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
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

func (s *Store) Dequeue(ctx context.Context, limit int, lease time.Duration) ([]*delivery.Delivery, error) {
	ts := now()
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		UPDATE payrelay_deliveries
		SET claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM payrelay_deliveries
			WHERE status = 'PENDING'
			  AND next_attempt_at <= ?
			  AND (claimed_at IS NULL OR claimed_at < ?)
			ORDER BY next_attempt_at ASC
			LIMIT ?
		)
		RETURNING *
	`, stampOf(ts), stampOf(ts), stampOf(ts), stampOf(ts.Add(-lease)), limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = stampOf(now())
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	d.UpdatedAt = m.UpdatedAt.Time()
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", delID.String()).
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
	q := s.sdb.NewSelect(&models).Where("endpoint_id = ?", epID.String())
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	if err := s.sdb.NewSelect(&models).
		Where("event_id = ?", evtID.String()).
		OrderExpr("endpoint_id ASC, attempt_number ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	return s.sdb.NewSelect((*deliveryModel)(nil)).
		Where("status = ?", string(delivery.StatusPending)).
		Count(ctx)
}

// ==================== Wallet Binding Store ====================

func (s *Store) UpsertBinding(ctx context.Context, b *walletlink.Binding) (*walletlink.Binding, error) {
	var models []bindingModel
	err := s.sdb.NewRaw(`
		INSERT INTO payrelay_wallet_bindings
			(id, user_id, project_id, wallet_address, nonce, verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (wallet_address) DO UPDATE SET
			user_id = excluded.user_id,
			project_id = excluded.project_id,
			nonce = excluded.nonce,
			verified_at = excluded.verified_at,
			updated_at = excluded.updated_at
		WHERE payrelay_wallet_bindings.nonce < excluded.nonce
		RETURNING *
	`, b.ID.String(), b.UserID, b.ProjectID, b.WalletAddress, b.Nonce,
		stampOf(b.VerifiedAt), stampOf(b.CreatedAt), stampOf(b.UpdatedAt)).Scan(ctx, &models)
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
	err := s.sdb.NewSelect(m).
		Where("wallet_address = ?", walletAddress).
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
	if err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID).
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
