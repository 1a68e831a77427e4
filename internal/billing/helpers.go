package billing

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_..., cs_...) is
// safe for use as a lookup key. Keeps the check strict to avoid query
// surprises from hostile webhook payloads.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// IsTerminalSubscriptionStatus reports whether a Stripe subscription status
// means the subscription will never bill again.
func IsTerminalSubscriptionStatus(status string) bool {
	switch status {
	case "canceled", "unpaid", "incomplete_expired":
		return true
	default:
		return false
	}
}

// isSettledSubscriptionStatus reports whether the subscription is in a
// state where payment has gone through.
func isSettledSubscriptionStatus(status string) bool {
	switch status {
	case "active", "trialing":
		return true
	default:
		return false
	}
}
