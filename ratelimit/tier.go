// Package ratelimit is the admission controller in front of the public
// API: sliding-window request counting per caller identity and tier.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Tier is an independent request budget.
type Tier struct {
	Name   string        `json:"name"   mapstructure:"name"`
	Window time.Duration `json:"window" mapstructure:"window"`
	Limit  int           `json:"limit"  mapstructure:"limit"`
}

// Default tiers.
var (
	TierPayment    = Tier{Name: "payment", Window: time.Minute, Limit: 50}
	TierSuspicious = Tier{Name: "suspicious", Window: time.Minute, Limit: 10}
	TierGeneral    = Tier{Name: "general", Window: time.Minute, Limit: 100}
)

// Tiers is the set of budgets a Controller enforces.
type Tiers struct {
	Payment    Tier `json:"payment"    mapstructure:"payment"`
	Suspicious Tier `json:"suspicious" mapstructure:"suspicious"`
	General    Tier `json:"general"    mapstructure:"general"`
}

// DefaultTiers returns 50, 10 and 100 requests per minute.
func DefaultTiers() Tiers {
	return Tiers{Payment: TierPayment, Suspicious: TierSuspicious, General: TierGeneral}
}

func (t Tiers) withDefaults() Tiers {
	def := DefaultTiers()
	fill := func(got *Tier, want Tier) {
		if got.Name == "" {
			got.Name = want.Name
		}
		if got.Window <= 0 {
			got.Window = want.Window
		}
		if got.Limit <= 0 {
			got.Limit = want.Limit
		}
	}
	fill(&t.Payment, def.Payment)
	fill(&t.Suspicious, def.Suspicious)
	fill(&t.General, def.General)
	return t
}

// Identify returns the admission identifier of r: "api_key:<key>" when the
// caller presents an API key, otherwise "ip:<address>".
func Identify(r *http.Request) string {
	if key := APIKey(r.Header.Get("X-API-Key"), r.Header.Get("Authorization")); key != "" {
		return "api_key:" + key
	}
	return "ip:" + ClientIP(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)
}

// APIKey extracts a key from the X-API-Key header or a Bearer token.
func APIKey(apiKeyHeader, authorization string) string {
	if k := strings.TrimSpace(apiKeyHeader); k != "" {
		return k
	}
	const bearer = "bearer "
	if len(authorization) > len(bearer) && strings.EqualFold(authorization[:len(bearer)], bearer) {
		return strings.TrimSpace(authorization[len(bearer):])
	}
	return ""
}

// ClientIP picks the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of the remote address.
func ClientIP(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(realIP); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	if remoteAddr == "" {
		return "unknown"
	}
	return remoteAddr
}
