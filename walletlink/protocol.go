// Package walletlink proves that a user controls a Solana wallet.
//
// The server issues a challenge message embedding the wallet address and
// the issue time in milliseconds. That timestamp is the nonce: nothing is
// stored between issue and verify. The wallet signs the message with
// Ed25519 and the caller echoes back the timestamp, which must still be
// inside the replay window.
package walletlink

import (
	"errors"
	"strconv"
	"time"
)

// Verification failures. All of them mean "not proven"; callers that only
// need a yes/no answer use ConfirmOwnership.
var (
	ErrMissingField        = errors.New("walletlink: wallet address, signature and timestamp are required")
	ErrSignatureLength     = errors.New("walletlink: signature must be 64 bytes")
	ErrChallengeExpired    = errors.New("walletlink: challenge expired")
	ErrChallengeFromFuture = errors.New("walletlink: challenge timestamp is in the future")
	ErrInvalidAddress      = errors.New("walletlink: invalid wallet address")
	ErrInvalidSignature    = errors.New("walletlink: signature does not match")
)

const (
	// DefaultWindow is how long a challenge may be answered.
	DefaultWindow = 5 * time.Minute
	// DefaultSkew is how far in the future a timestamp may be.
	DefaultSkew = 30 * time.Second
)

// ChallengeMessage returns the exact text a wallet signs.
func ChallengeMessage(walletAddress string, nonce int64) string {
	return "Sign this message to link your wallet.\n\nWallet: " + walletAddress +
		"\nNonce: " + strconv.FormatInt(nonce, 10)
}

// Challenge is an issued, unsigned challenge.
type Challenge struct {
	WalletAddress string    `json:"wallet_address"`
	Message       string    `json:"message"`
	Nonce         int64     `json:"timestamp"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Protocol issues and verifies challenges. It holds no mutable state and
// is safe for concurrent use.
type Protocol struct {
	window time.Duration
	skew   time.Duration
	clock  func() time.Time
}

// ProtocolOption configures a Protocol.
type ProtocolOption func(*Protocol)

// WithWindow sets the replay window.
func WithWindow(d time.Duration) ProtocolOption {
	return func(p *Protocol) {
		if d > 0 {
			p.window = d
		}
	}
}

// WithSkew sets the tolerated clock skew for future timestamps.
func WithSkew(d time.Duration) ProtocolOption {
	return func(p *Protocol) {
		if d >= 0 {
			p.skew = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) ProtocolOption {
	return func(p *Protocol) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewProtocol creates a Protocol with a 5 minute window and 30 seconds of skew.
func NewProtocol(opts ...ProtocolOption) *Protocol {
	p := &Protocol{window: DefaultWindow, skew: DefaultSkew, clock: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Window returns the replay window.
func (p *Protocol) Window() time.Duration { return p.window }

// IssueChallenge builds the challenge for walletAddress.
func (p *Protocol) IssueChallenge(walletAddress string) (*Challenge, error) {
	if walletAddress == "" {
		return nil, ErrMissingField
	}
	if _, err := DecodeAddress(walletAddress); err != nil {
		return nil, err
	}
	now := p.clock().UTC()
	nonce := now.UnixMilli()
	return &Challenge{
		WalletAddress: walletAddress,
		Message:       ChallengeMessage(walletAddress, nonce),
		Nonce:         nonce,
		IssuedAt:      time.UnixMilli(nonce).UTC(),
		ExpiresAt:     time.UnixMilli(nonce).UTC().Add(p.window),
	}, nil
}

// Verify checks a signed challenge and returns why it fails, if it does.
// The length check runs before any decoding or cryptography.
func (p *Protocol) Verify(walletAddress string, sig []byte, timestamp int64) error {
	if walletAddress == "" || len(sig) == 0 || timestamp == 0 {
		return ErrMissingField
	}
	if len(sig) != SignatureSize {
		return ErrSignatureLength
	}

	now := p.clock()
	issued := time.UnixMilli(timestamp)
	if now.Sub(issued) > p.window {
		return ErrChallengeExpired
	}
	if issued.Sub(now) > p.skew {
		return ErrChallengeFromFuture
	}

	pub, err := DecodeAddress(walletAddress)
	if err != nil {
		return err
	}
	if !VerifySignature(pub, []byte(ChallengeMessage(walletAddress, timestamp)), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// ConfirmOwnership reports whether the signed challenge proves ownership.
func (p *Protocol) ConfirmOwnership(walletAddress string, sig []byte, timestamp int64) bool {
	return p.Verify(walletAddress, sig, timestamp) == nil
}
