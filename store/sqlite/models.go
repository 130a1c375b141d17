package sqlite

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/payrelay/delivery"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/payment"
	"github.com/xraph/payrelay/walletlink"
)

// --- Payment models ---

type paymentModel struct {
	grove.BaseModel `grove:"table:payrelay_payments"`

	ID            string `grove:"id,pk"`
	ProjectID     string `grove:"project_id"`
	SessionID     string `grove:"session_id"`
	Status        string `grove:"status"`
	Currency      string `grove:"currency"`
	Amount        int64  `grove:"amount"`
	FailureReason string `grove:"failure_reason"`
	TxSignature   string `grove:"tx_signature"`
	CreatedAt     stamp  `grove:"created_at"`
	UpdatedAt     stamp  `grove:"updated_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:            p.ID.String(),
		ProjectID:     p.ProjectID,
		SessionID:     p.SessionID,
		Status:        string(p.Status),
		Currency:      string(p.Currency),
		Amount:        p.Amount,
		FailureReason: p.FailureReason,
		TxSignature:   p.TxSignature,
		CreatedAt:     stampOf(p.CreatedAt),
		UpdatedAt:     stampOf(p.UpdatedAt),
	}
}

func fromPaymentModels(models []paymentModel) ([]*payment.Payment, error) {
	result := make([]*payment.Payment, len(models))
	for i := range models {
		m := &models[i]
		payID, err := id.ParsePaymentID(m.ID)
		if err != nil {
			return nil, fmt.Errorf("parse payment ID %q: %w", m.ID, err)
		}
		result[i] = &payment.Payment{
			Entity:        entity.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
			ID:            payID,
			ProjectID:     m.ProjectID,
			SessionID:     m.SessionID,
			Status:        payment.Status(m.Status),
			Currency:      payment.Currency(m.Currency),
			Amount:        m.Amount,
			FailureReason: m.FailureReason,
			TxSignature:   m.TxSignature,
		}
	}
	return result, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:payrelay_events"`

	ID        string  `grove:"id,pk"`
	ProjectID string  `grove:"project_id"`
	PaymentID *string `grove:"payment_id"`
	SessionID string  `grove:"session_id"`
	Type      string  `grove:"type"`
	Metadata  string  `grove:"metadata"` // JSON object
	CreatedAt stamp   `grove:"created_at"`
	UpdatedAt stamp   `grove:"updated_at"`
}

func toEventModel(evt *event.Event) (*eventModel, error) {
	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode event metadata: %w", err)
	}
	m := &eventModel{
		ID:        evt.ID.String(),
		ProjectID: evt.ProjectID,
		SessionID: evt.SessionID,
		Type:      evt.Type,
		Metadata:  string(metadata),
		CreatedAt: stampOf(evt.CreatedAt),
		UpdatedAt: stampOf(evt.UpdatedAt),
	}
	if !evt.PaymentID.IsNil() {
		s := evt.PaymentID.String()
		m.PaymentID = &s
	}
	return m, nil
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	evt := &event.Event{
		Entity:    entity.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:        evtID,
		ProjectID: m.ProjectID,
		SessionID: m.SessionID,
		Type:      m.Type,
	}
	if m.PaymentID != nil && *m.PaymentID != "" {
		if evt.PaymentID, err = id.ParsePaymentID(*m.PaymentID); err != nil {
			return nil, fmt.Errorf("parse payment ID %q: %w", *m.PaymentID, err)
		}
	}
	if m.Metadata != "" && m.Metadata != "null" {
		if err := json.Unmarshal([]byte(m.Metadata), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return evt, nil
}

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:payrelay_endpoints"`

	ID          string `grove:"id,pk"`
	ProjectID   string `grove:"project_id"`
	URL         string `grove:"url"`
	Description string `grove:"description"`
	Secret      string `grove:"secret"`
	EventTypes  string `grove:"event_types"` // JSON array
	Status      string `grove:"status"`
	LastTimeHit *stamp `grove:"last_time_hit"`
	RevokedAt   *stamp `grove:"revoked_at"`
	Metadata    string `grove:"metadata"` // JSON object
	CreatedAt   stamp  `grove:"created_at"`
	UpdatedAt   stamp  `grove:"updated_at"`
}

// eventTypes decodes the JSON subscription list.
func (m *endpointModel) eventTypes() []string {
	var types []string
	if m.EventTypes != "" {
		_ = json.Unmarshal([]byte(m.EventTypes), &types) //nolint:errcheck // written by toEndpointModel
	}
	return types
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	eventTypes, _ := json.Marshal(ep.EventTypes) //nolint:errcheck // []string cannot fail
	metadata, _ := json.Marshal(ep.Metadata)     //nolint:errcheck // map[string]string cannot fail

	return &endpointModel{
		ID:          ep.ID.String(),
		ProjectID:   ep.ProjectID,
		URL:         ep.URL,
		Description: ep.Description,
		Secret:      ep.Secret,
		EventTypes:  string(eventTypes),
		Status:      string(ep.Status),
		LastTimeHit: stampPtr(ep.LastTimeHit),
		RevokedAt:   stampPtr(ep.RevokedAt),
		Metadata:    string(metadata),
		CreatedAt:   stampOf(ep.CreatedAt),
		UpdatedAt:   stampOf(ep.UpdatedAt),
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}

	var metadata map[string]string
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &metadata) //nolint:errcheck // written by toEndpointModel
	}

	return &endpoint.Endpoint{
		Entity:      entity.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:          epID,
		ProjectID:   m.ProjectID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.eventTypes(),
		Status:      endpoint.Status(m.Status),
		LastTimeHit: m.LastTimeHit.timePtr(),
		RevokedAt:   m.RevokedAt.timePtr(),
		Metadata:    metadata,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:payrelay_deliveries"`

	ID             string `grove:"id,pk"`
	EventID        string `grove:"event_id"`
	EndpointID     string `grove:"endpoint_id"`
	AttemptNumber  int    `grove:"attempt_number"`
	MaxAttempts    int    `grove:"max_attempts"`
	Status         string `grove:"status"`
	HTTPStatusCode *int   `grove:"http_status_code"`
	ErrorMessage   string `grove:"error_message"`
	ResponseBody   string `grove:"response_body"`
	LatencyMs      int    `grove:"latency_ms"`
	NextAttemptAt  stamp  `grove:"next_attempt_at"`
	ClaimedAt      *stamp `grove:"claimed_at"`
	DeliveredAt    *stamp `grove:"delivered_at"`
	CreatedAt      stamp  `grove:"created_at"`
	UpdatedAt      stamp  `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		EventID:        d.EventID.String(),
		EndpointID:     d.EndpointID.String(),
		AttemptNumber:  d.AttemptNumber,
		MaxAttempts:    d.MaxAttempts,
		Status:         string(d.Status),
		HTTPStatusCode: d.HTTPStatusCode,
		ErrorMessage:   d.ErrorMessage,
		ResponseBody:   d.ResponseBody,
		LatencyMs:      d.LatencyMs,
		NextAttemptAt:  stampOf(d.NextAttemptAt),
		ClaimedAt:      stampPtr(d.ClaimedAt),
		DeliveredAt:    stampPtr(d.DeliveredAt),
		CreatedAt:      stampOf(d.CreatedAt),
		UpdatedAt:      stampOf(d.UpdatedAt),
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}
	return &delivery.Delivery{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:             delID,
		EventID:        evtID,
		EndpointID:     epID,
		AttemptNumber:  m.AttemptNumber,
		MaxAttempts:    m.MaxAttempts,
		Status:         delivery.Status(m.Status),
		HTTPStatusCode: m.HTTPStatusCode,
		ErrorMessage:   m.ErrorMessage,
		ResponseBody:   m.ResponseBody,
		LatencyMs:      m.LatencyMs,
		NextAttemptAt:  m.NextAttemptAt.Time(),
		ClaimedAt:      m.ClaimedAt.timePtr(),
		DeliveredAt:    m.DeliveredAt.timePtr(),
	}, nil
}

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// --- Wallet binding models ---

type bindingModel struct {
	grove.BaseModel `grove:"table:payrelay_wallet_bindings"`

	ID            string `grove:"id,pk"`
	UserID        string `grove:"user_id"`
	ProjectID     string `grove:"project_id"`
	WalletAddress string `grove:"wallet_address,unique"`
	Nonce         int64  `grove:"nonce"`
	VerifiedAt    stamp  `grove:"verified_at"`
	CreatedAt     stamp  `grove:"created_at"`
	UpdatedAt     stamp  `grove:"updated_at"`
}

func fromBindingModel(m *bindingModel) (*walletlink.Binding, error) {
	bID, err := id.ParseWalletBindingID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse wallet binding ID %q: %w", m.ID, err)
	}
	return &walletlink.Binding{
		Entity:        entity.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:            bID,
		UserID:        m.UserID,
		ProjectID:     m.ProjectID,
		WalletAddress: m.WalletAddress,
		Nonce:         m.Nonce,
		VerifiedAt:    m.VerifiedAt.Time(),
	}, nil
}

// --- Timestamps ---

// stampLayout is fixed width so stored timestamps order correctly as text.
const stampLayout = "2006-01-02T15:04:05.000000000Z"

// stampLayouts are accepted on read. The last one is what
// datetime('now') column defaults produce.
var stampLayouts = []string{stampLayout, time.RFC3339Nano, "2006-01-02 15:04:05"}

// stamp stores a time as UTC text. SQLite has no time type and the driver
// hands TEXT columns back as strings.
type stamp time.Time

func stampOf(t time.Time) stamp { return stamp(t.UTC()) }

func stampPtr(t *time.Time) *stamp {
	if t == nil {
		return nil
	}
	s := stampOf(*t)
	return &s
}

// Time returns the stored instant in UTC.
func (s stamp) Time() time.Time { return time.Time(s).UTC() }

func (s *stamp) timePtr() *time.Time {
	if s == nil {
		return nil
	}
	t := s.Time()
	return &t
}

// Value implements driver.Valuer.
func (s stamp) Value() (driver.Value, error) {
	return s.Time().Format(stampLayout), nil
}

// Scan implements sql.Scanner.
func (s *stamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s = stampOf(v)
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s = stamp{}
		return nil
	default:
		return fmt.Errorf("payrelay/sqlite: cannot scan %T into a timestamp", src)
	}
}

func (s *stamp) parse(v string) error {
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s = stampOf(t)
			return nil
		}
	}
	return fmt.Errorf("payrelay/sqlite: unrecognised timestamp %q", v)
}
