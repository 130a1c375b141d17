package payment

import (
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
)

// Status is the lifecycle state of a payment. PENDING is the only
// non-terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s != StatusPending }

// Currency is a supported SPL stablecoin.
type Currency string

const (
	CurrencyUSDC Currency = "USDC"
	CurrencyUSDT Currency = "USDT"
)

// TimeoutReason is recorded on payments closed by the sweep.
const TimeoutReason = "Session timeout - payment not completed within 15 minutes"

// Payment is one payment session. Payments are never deleted.
type Payment struct {
	entity.Entity

	ID        id.ID  `json:"id"`
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`

	Status   Status   `json:"status"`
	Currency Currency `json:"currency"`

	// Amount is in the token's smallest unit (6 decimals for USDC/USDT).
	Amount int64 `json:"amount"`

	FailureReason string `json:"failure_reason,omitempty"`

	// TxSignature is the on-chain transaction signature of a confirmed payment.
	TxSignature string `json:"tx_signature,omitempty"`
}

// CreateInput starts a payment session.
type CreateInput struct {
	ProjectID string         `json:"project_id" validate:"required,max=128"`
	Currency  Currency       `json:"currency"   validate:"required,oneof=USDC USDT"`
	Amount    int64          `json:"amount"     validate:"gt=0"`
	SessionID string         `json:"session_id,omitempty" validate:"omitempty,max=128"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Transition moves a PENDING payment to a terminal state.
type Transition struct {
	To            Status
	FailureReason string
	TxSignature   string
}

// ListOpts filters payment listings.
type ListOpts struct {
	Status Status
	Offset int
	Limit  int
}
