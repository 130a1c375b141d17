package walletlink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/payrelay/event"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/internal/entity"
	"github.com/xraph/payrelay/internal/validation"
)

// LinkInput is a signed challenge submitted by a wallet.
type LinkInput struct {
	UserID        string         `json:"user_id"    validate:"required,max=128"`
	ProjectID     string         `json:"project_id" validate:"max=128"`
	WalletAddress string         `json:"publicKey"`
	Signature     SignatureBytes `json:"signature"`
	Timestamp     int64          `json:"timestamp"`
}

// Service links verified wallets to users.
type Service struct {
	protocol  *Protocol
	store     Store
	publisher event.Publisher
	logger    *slog.Logger
}

// NewService creates a wallet link service.
func NewService(protocol *Protocol, store Store, publisher event.Publisher, logger *slog.Logger) *Service {
	if protocol == nil {
		protocol = NewProtocol()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{protocol: protocol, store: store, publisher: publisher, logger: logger}
}

// Protocol returns the underlying challenge protocol.
func (svc *Service) Protocol() *Protocol { return svc.protocol }

// Challenge issues a challenge for walletAddress.
func (svc *Service) Challenge(_ context.Context, walletAddress string) (*Challenge, error) {
	return svc.protocol.IssueChallenge(walletAddress)
}

// Link verifies the signed challenge and binds the wallet to the user. A
// timestamp at or below the one of the current binding is a replay and
// is rejected with ErrNonceReplayed.
func (svc *Service) Link(ctx context.Context, in LinkInput) (*Binding, error) {
	if err := validation.Validator().Struct(in); err != nil {
		field, msg, ok := validation.Describe(err)
		if !ok {
			return nil, err
		}
		return nil, &ValidationError{Field: field, Message: msg}
	}

	if err := svc.protocol.Verify(in.WalletAddress, in.Signature, in.Timestamp); err != nil {
		svc.logger.WarnContext(ctx, "wallet verification failed",
			"wallet_address", in.WalletAddress, "user_id", in.UserID, "error", err)
		return nil, err
	}

	now := svc.protocol.clock().UTC()
	b, err := svc.store.UpsertBinding(ctx, &Binding{
		Entity:        entity.At(now),
		ID:            id.NewWalletBindingID(),
		UserID:        in.UserID,
		ProjectID:     in.ProjectID,
		WalletAddress: in.WalletAddress,
		Nonce:         in.Timestamp,
		VerifiedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	if svc.publisher != nil && b.ProjectID != "" {
		evt := &event.Event{
			ProjectID: b.ProjectID,
			Type:      event.TypeWalletLinked,
			Metadata: map[string]any{
				"wallet_address": b.WalletAddress,
				"user_id":        b.UserID,
				"verified_at":    b.VerifiedAt.Format(time.RFC3339),
			},
		}
		if pubErr := svc.publisher.Publish(ctx, evt); pubErr != nil {
			svc.logger.ErrorContext(ctx, "publish wallet.linked failed",
				"wallet_address", b.WalletAddress, "error", fmt.Errorf("walletlink: %w", pubErr))
		}
	}

	svc.logger.InfoContext(ctx, "wallet linked",
		"wallet_address", b.WalletAddress, "user_id", b.UserID)
	return b, nil
}

// GetBinding returns the binding for a wallet.
func (svc *Service) GetBinding(ctx context.Context, walletAddress string) (*Binding, error) {
	return svc.store.GetBinding(ctx, walletAddress)
}

// ListBindings returns every wallet bound to a user.
func (svc *Service) ListBindings(ctx context.Context, userID string) ([]*Binding, error) {
	return svc.store.ListBindings(ctx, userID)
}

// ValidationError indicates invalid link input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "walletlink validation: " + e.Field + ": " + e.Message
}
