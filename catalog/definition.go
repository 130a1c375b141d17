package catalog

import (
	"encoding/json"
	"time"
)

// Definition describes one event type payrelay can emit.
type Definition struct {
	// Name is the dot-separated event type, "<resource>.<action>".
	Name string `json:"name"`

	Description string `json:"description"`

	// Group organizes types in listings ("payment", "wallet").
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema for the event metadata.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Example is an optional sample metadata document, used by test sends.
	Example json.RawMessage `json:"example,omitempty"`
}

// EventType is a registered Definition.
type EventType struct {
	Definition

	RegisteredAt time.Time  `json:"registered_at"`
	Deprecated   bool       `json:"deprecated"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// Defaults are registered by New.
var Defaults = []Definition{
	{
		Name:        "payment.created",
		Description: "A payment session started and the payment is PENDING.",
		Group:       "payment",
		Schema:      paymentSchema,
		Example:     json.RawMessage(`{"amount":2500000,"currency":"USDC","status":"PENDING"}`),
	},
	{
		Name:        "payment.confirmed",
		Description: "The on-chain transfer was confirmed.",
		Group:       "payment",
		Schema:      paymentSchema,
	},
	{
		Name:        "payment.failed",
		Description: "The payment failed before confirmation.",
		Group:       "payment",
		Schema:      paymentSchema,
	},
	{
		Name:        "payment.timed_out",
		Description: "The payment stayed PENDING past the session timeout and was closed by the sweep.",
		Group:       "payment",
		Schema:      paymentSchema,
	},
	{
		Name:        "wallet.linked",
		Description: "A user proved control of a wallet address.",
		Group:       "wallet",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"wallet_address": {"type": "string", "minLength": 32},
				"user_id": {"type": "string", "minLength": 1}
			},
			"required": ["wallet_address", "user_id"]
		}`),
	},
	{
		Name:        "webhook.test",
		Description: "Synthetic event sent by an endpoint test.",
		Group:       "webhook",
		Example:     json.RawMessage(`{"message":"This is a test webhook from payrelay"}`),
	},
}

var paymentSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"amount": {"type": "integer", "minimum": 1},
		"currency": {"enum": ["USDC", "USDT"]},
		"status": {"enum": ["PENDING", "CONFIRMED", "FAILED", "TIMED_OUT"]},
		"failure_reason": {"type": "string"}
	},
	"required": ["amount", "currency", "status"]
}`)
