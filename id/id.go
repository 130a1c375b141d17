// Package id defines the TypeID-based identifiers used by every payrelay record.
//
// An ID renders as "prefix_suffix" where the prefix names the record kind
// (pay, evt, ep, del, wlink) and the suffix is a UUIDv7, so IDs sort by
// creation time and are safe to put in URLs.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of record an ID belongs to.
type Prefix string

const (
	PrefixPayment       Prefix = "pay"
	PrefixEvent         Prefix = "evt"
	PrefixEndpoint      Prefix = "ep"
	PrefixDelivery      Prefix = "del"
	PrefixWalletBinding Prefix = "wlink"
)

// ID is a prefix-qualified TypeID. The zero value is Nil.
//
//nolint:recvcheck // value receivers for readers, pointer receivers for decoders.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero ID. It encodes as an empty string and as SQL NULL.
var Nil ID

// New returns a fresh ID for prefix. An invalid prefix is a programming
// error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate with prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse decodes any well-formed TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix decodes s and checks that it carries the expected prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != expected {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, expected)
	}
	return parsed, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

func NewPaymentID() ID       { return New(PrefixPayment) }
func NewEventID() ID         { return New(PrefixEvent) }
func NewEndpointID() ID      { return New(PrefixEndpoint) }
func NewDeliveryID() ID      { return New(PrefixDelivery) }
func NewWalletBindingID() ID { return New(PrefixWalletBinding) }

func ParsePaymentID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixPayment) }
func ParseEventID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixEvent) }
func ParseEndpointID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEndpoint) }
func ParseDeliveryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDelivery) }
func ParseWalletBindingID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixWalletBinding)
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the record kind encoded in the ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL so optional
// references (an event without a payment) round-trip.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
