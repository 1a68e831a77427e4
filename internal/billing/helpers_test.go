package billing

import "testing"

func TestIsSafeStripeID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"cus_ABC123", true},
		{"sub_1MowQVLkdIwHu7ixeRlqHVzs", true},
		{"cs_test_a1b2-c3", true},
		{"", false},
		{"sub", false},
		{"sub_1; DROP TABLE accounts", false},
		{"sub_../etc/passwd", false},
		{string(make([]byte, 200)), false},
	}
	for _, tt := range tests {
		if got := IsSafeStripeID(tt.id); got != tt.want {
			t.Errorf("IsSafeStripeID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsTerminalSubscriptionStatus(t *testing.T) {
	terminal := []string{"canceled", "unpaid", "incomplete_expired"}
	for _, s := range terminal {
		if !IsTerminalSubscriptionStatus(s) {
			t.Errorf("IsTerminalSubscriptionStatus(%q) = false, want true", s)
		}
	}
	live := []string{"active", "trialing", "past_due", "incomplete", ""}
	for _, s := range live {
		if IsTerminalSubscriptionStatus(s) {
			t.Errorf("IsTerminalSubscriptionStatus(%q) = true, want false", s)
		}
	}
}
