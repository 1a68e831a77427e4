package licensing

import "strings"

// Tier is the service level an account is entitled to.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierDiamond Tier = "diamond"
)

// PaidTiers lists the tiers that can be purchased, in ascending order.
var PaidTiers = []Tier{TierPro, TierDiamond}

// ParseTier normalizes a tier string. The second return value reports
// whether the input named a known tier.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, true
	case TierPro:
		return TierPro, true
	case TierDiamond:
		return TierDiamond, true
	default:
		return TierFree, false
	}
}

// Paid reports whether the tier requires an active subscription.
func (t Tier) Paid() bool {
	return t == TierPro || t == TierDiamond
}
