package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// SecretPrefix marks endpoint signing secrets.
const SecretPrefix = "whsec_"

// GenerateSecret returns a new endpoint signing secret: "whsec_" followed by
// 32 random bytes in hex.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("payrelay: read random secret: " + err.Error())
	}
	return SecretPrefix + hex.EncodeToString(b)
}
