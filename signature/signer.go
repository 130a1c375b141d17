// Package signature signs outbound webhook payloads so receivers can prove
// a delivery came from payrelay and was not altered in transit.
//
// The signed content is "{unix timestamp}.{raw body}" and the signature is
// HMAC-SHA256 keyed with the endpoint secret, hex encoded with a "v1="
// version tag.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Header names set on every outbound delivery.
const (
	HeaderSignature  = "X-Payrelay-Signature"
	HeaderTimestamp  = "X-Payrelay-Timestamp"
	HeaderEventID    = "X-Payrelay-Event-ID"
	HeaderEventType  = "X-Payrelay-Event-Type"
	HeaderDeliveryID = "X-Payrelay-Delivery-ID"
	HeaderAttempt    = "X-Payrelay-Attempt"
)

const version = "v1="

// Sign returns the versioned signature of payload for the given secret and
// unix timestamp.
func Sign(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return version + hex.EncodeToString(mac.Sum(nil))
}
