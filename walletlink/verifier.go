package walletlink

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// SignatureSize is the length of a detached Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// VerifySignature reports whether sig is a valid Ed25519 signature of
// message by publicKey. Malformed input of any kind yields false.
func VerifySignature(publicKey, message, sig []byte) (ok bool) {
	if len(publicKey) != ed25519.PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, sig)
}

// DecodeAddress decodes a base58 Solana address into its 32-byte public key.
func DecodeAddress(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: decoded to %d bytes", ErrInvalidAddress, len(raw))
	}
	return raw, nil
}

// EncodeAddress renders a public key as a base58 address.
func EncodeAddress(publicKey []byte) string {
	return base58.Encode(publicKey)
}

// SignatureBytes is a detached signature as wallets submit it: a JSON
// array of byte values. A base58 string is accepted as well.
type SignatureBytes []byte

// UnmarshalJSON implements json.Unmarshaler.
func (s *SignatureBytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		raw, decErr := base58.Decode(encoded)
		if decErr != nil {
			return fmt.Errorf("walletlink: signature: %w", decErr)
		}
		*s = raw
		return nil
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return errors.New("walletlink: signature must be an array of byte values")
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("walletlink: signature byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*s = out
	return nil
}

// MarshalJSON encodes the signature as an array of byte values.
func (s SignatureBytes) MarshalJSON() ([]byte, error) {
	values := make([]int, len(s))
	for i, b := range s {
		values[i] = int(b)
	}
	return json.Marshal(values)
}
