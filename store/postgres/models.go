package postgres

import (
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

	ID            string    `grove:"id,pk"`
	ProjectID     string    `grove:"project_id"`
	SessionID     string    `grove:"session_id"`
	Status        string    `grove:"status"`
	Currency      string    `grove:"currency"`
	Amount        int64     `grove:"amount"`
	FailureReason string    `grove:"failure_reason"`
	TxSignature   string    `grove:"tx_signature"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
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
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	payID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse payment ID %q: %w", m.ID, err)
	}
	return &payment.Payment{
		Entity:        entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            payID,
		ProjectID:     m.ProjectID,
		SessionID:     m.SessionID,
		Status:        payment.Status(m.Status),
		Currency:      payment.Currency(m.Currency),
		Amount:        m.Amount,
		FailureReason: m.FailureReason,
		TxSignature:   m.TxSignature,
	}, nil
}

func fromPaymentModels(models []paymentModel) ([]*payment.Payment, error) {
	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:payrelay_events"`

	ID        string          `grove:"id,pk"`
	ProjectID string          `grove:"project_id"`
	PaymentID *string         `grove:"payment_id"`
	SessionID string          `grove:"session_id"`
	Type      string          `grove:"type"`
	Metadata  json.RawMessage `grove:"metadata,type:jsonb"`
	CreatedAt time.Time       `grove:"created_at"`
	UpdatedAt time.Time       `grove:"updated_at"`
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
		Metadata:  metadata,
		CreatedAt: evt.CreatedAt,
		UpdatedAt: evt.UpdatedAt,
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
		Entity:    entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        evtID,
		ProjectID: m.ProjectID,
		SessionID: m.SessionID,
		Type:      m.Type,
	}
	if m.PaymentID != nil && *m.PaymentID != "" {
		payID, err := id.ParsePaymentID(*m.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("parse payment ID %q: %w", *m.PaymentID, err)
		}
		evt.PaymentID = payID
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &evt.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return evt, nil
}

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:payrelay_endpoints"`

	ID          string            `grove:"id,pk"`
	ProjectID   string            `grove:"project_id"`
	URL         string            `grove:"url"`
	Description string            `grove:"description"`
	Secret      string            `grove:"secret"`
	EventTypes  []string          `grove:"event_types,array"`
	Status      string            `grove:"status"`
	LastTimeHit *time.Time        `grove:"last_time_hit"`
	RevokedAt   *time.Time        `grove:"revoked_at"`
	Metadata    map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:          ep.ID.String(),
		ProjectID:   ep.ProjectID,
		URL:         ep.URL,
		Description: ep.Description,
		Secret:      ep.Secret,
		EventTypes:  ep.EventTypes,
		Status:      string(ep.Status),
		LastTimeHit: ep.LastTimeHit,
		RevokedAt:   ep.RevokedAt,
		Metadata:    ep.Metadata,
		CreatedAt:   ep.CreatedAt,
		UpdatedAt:   ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	return &endpoint.Endpoint{
		Entity:      entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          epID,
		ProjectID:   m.ProjectID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Status:      endpoint.Status(m.Status),
		LastTimeHit: m.LastTimeHit,
		RevokedAt:   m.RevokedAt,
		Metadata:    m.Metadata,
	}, nil
}

func fromEndpointModels(models []endpointModel) ([]*endpoint.Endpoint, error) {
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

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:payrelay_deliveries"`

	ID             string     `grove:"id,pk"`
	EventID        string     `grove:"event_id"`
	EndpointID     string     `grove:"endpoint_id"`
	AttemptNumber  int        `grove:"attempt_number"`
	MaxAttempts    int        `grove:"max_attempts"`
	Status         string     `grove:"status"`
	HTTPStatusCode *int       `grove:"http_status_code"`
	ErrorMessage   string     `grove:"error_message"`
	ResponseBody   string     `grove:"response_body"`
	LatencyMs      int        `grove:"latency_ms"`
	NextAttemptAt  time.Time  `grove:"next_attempt_at"`
	ClaimedAt      *time.Time `grove:"claimed_at"`
	DeliveredAt    *time.Time `grove:"delivered_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
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
		NextAttemptAt:  d.NextAttemptAt,
		ClaimedAt:      d.ClaimedAt,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
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
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
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
		NextAttemptAt:  m.NextAttemptAt,
		ClaimedAt:      m.ClaimedAt,
		DeliveredAt:    m.DeliveredAt,
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

	ID            string    `grove:"id,pk"`
	UserID        string    `grove:"user_id"`
	ProjectID     string    `grove:"project_id"`
	WalletAddress string    `grove:"wallet_address,unique"`
	Nonce         int64     `grove:"nonce"`
	VerifiedAt    time.Time `grove:"verified_at"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func toBindingModel(b *walletlink.Binding) *bindingModel {
	return &bindingModel{
		ID:            b.ID.String(),
		UserID:        b.UserID,
		ProjectID:     b.ProjectID,
		WalletAddress: b.WalletAddress,
		Nonce:         b.Nonce,
		VerifiedAt:    b.VerifiedAt,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func fromBindingModel(m *bindingModel) (*walletlink.Binding, error) {
	bID, err := id.ParseWalletBindingID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse wallet binding ID %q: %w", m.ID, err)
	}
	return &walletlink.Binding{
		Entity:        entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            bID,
		UserID:        m.UserID,
		ProjectID:     m.ProjectID,
		WalletAddress: m.WalletAddress,
		Nonce:         m.Nonce,
		VerifiedAt:    m.VerifiedAt,
	}, nil
}
