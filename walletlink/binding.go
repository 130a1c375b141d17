package walletlink

import (
	"context"
	"time"

	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
)

// Binding records that a user proved control of a wallet.
type Binding struct {
	entity.Entity

	ID            id.ID     `json:"id"`
	UserID        string    `json:"user_id"`
	ProjectID     string    `json:"project_id,omitempty"`
	WalletAddress string    `json:"wallet_address"`
	Nonce         int64     `json:"nonce"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// Store persists wallet bindings, one per wallet address.
type Store interface {
	// UpsertBinding writes b if no binding exists for the wallet or the
	// stored nonce is strictly lower, and returns the stored record.
	// Otherwise it returns ErrNonceReplayed and changes nothing.
	UpsertBinding(ctx context.Context, b *Binding) (*Binding, error)

	GetBinding(ctx context.Context, walletAddress string) (*Binding, error)

	ListBindings(ctx context.Context, userID string) ([]*Binding, error)
}
