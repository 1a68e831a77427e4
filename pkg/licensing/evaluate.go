package licensing

import "time"

// Entitlement is the externally reported view of an account. Field names
// match the wire contract that client applications poll.
type Entitlement struct {
	Tier       Tier   `json:"tier"`
	LicenseKey string `json:"license_key,omitempty"`
	Expires    string `json:"expires,omitempty"`
	CancelAt   string `json:"cancel_at,omitempty"`
}

// Snapshot is the subset of a stored account record that entitlement
// evaluation needs. Tier is kept as a raw string on purpose: stored values
// are a cache, and a corrupted cache must degrade to free rather than fail.
type Snapshot struct {
	Tier       string
	LicenseKey string
	ExpiresAt  *time.Time
	CancelAt   *time.Time
}

// FreeEntitlement is what evaluation reports for absent, corrupted, or
// expired records.
func FreeEntitlement() Entitlement {
	return Entitlement{Tier: TierFree}
}

// Evaluate derives the entitlement an account actually holds right now.
// The stored tier is never authoritative on its own: a paid answer requires
// a parseable paid tier, a license key, and an expiry that has not passed.
// A pending cancellation does not revoke anything before expiry.
func Evaluate(s *Snapshot, now time.Time) Entitlement {
	if s == nil {
		return FreeEntitlement()
	}

	tier, ok := ParseTier(s.Tier)
	if !ok || !tier.Paid() {
		return FreeEntitlement()
	}
	if s.LicenseKey == "" || s.ExpiresAt == nil {
		return FreeEntitlement()
	}
	if now.UTC().After(s.ExpiresAt.UTC()) {
		return FreeEntitlement()
	}

	ent := Entitlement{
		Tier:       tier,
		LicenseKey: s.LicenseKey,
		Expires:    s.ExpiresAt.UTC().Format("2006-01-02"),
	}
	if s.CancelAt != nil {
		ent.CancelAt = s.CancelAt.UTC().Format("2006-01-02")
	}
	return ent
}
