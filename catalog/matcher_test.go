package catalog

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"*", "payment.created", true},
		{"*", "wallet.linked", true},

		{"payment.confirmed", "payment.confirmed", true},
		{"payment.confirmed", "payment.failed", false},

		{"payment.*", "payment.created", true},
		{"payment.*", "payment.timed_out", true},
		{"payment.*", "wallet.linked", false},
		{"*.linked", "wallet.linked", true},
		{"*.linked", "payment.created", false},

		{"payment.*.settled", "payment.usdc.settled", true},
		{"payment.*.settled", "payment.usdc.failed", false},

		// segment counts must agree
		{"payment.*", "payment.usdc.settled", false},
		{"payment", "payment.created", false},

		{"", "", true},
		{"a", "b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.eventType, func(t *testing.T) {
			if got := Match(tt.pattern, tt.eventType); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestMatchAny(t *testing.T) {
	if !MatchAny([]string{"wallet.*", "payment.confirmed"}, "payment.confirmed") {
		t.Fatal("expected match on second pattern")
	}
	if MatchAny(nil, "payment.confirmed") {
		t.Fatal("no patterns should never match")
	}
}
