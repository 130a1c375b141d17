package signature

import (
	"crypto/hmac"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrMissingHeader is returned when the signature or timestamp header is empty.
	ErrMissingHeader = errors.New("signature: missing header")

	// ErrStaleTimestamp is returned when the signed timestamp is outside the tolerance.
	ErrStaleTimestamp = errors.New("signature: timestamp outside tolerance")

	// ErrMismatch is returned when the signature does not match the payload.
	ErrMismatch = errors.New("signature: mismatch")
)

// Verify reports whether sig is the signature of payload under secret and
// timestamp. The comparison is constant time.
func Verify(payload []byte, secret string, timestamp int64, sig string) bool {
	return hmac.Equal([]byte(Sign(payload, secret, timestamp)), []byte(sig))
}

// VerifyHeaders checks a received delivery: the raw timestamp and signature
// header values, the raw body, and how far the timestamp may drift from now.
// A zero tolerance disables the freshness check.
func VerifyHeaders(payload []byte, secret, timestampHeader, signatureHeader string, now time.Time, tolerance time.Duration) error {
	if timestampHeader == "" || signatureHeader == "" {
		return ErrMissingHeader
	}
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return ErrMissingHeader
	}
	if tolerance > 0 {
		drift := now.Sub(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return ErrStaleTimestamp
		}
	}
	if !Verify(payload, secret, ts, signatureHeader) {
		return ErrMismatch
	}
	return nil
}
