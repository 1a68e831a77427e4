package store

import (
	"time"

	"github.com/tiergate/tiergate/pkg/licensing"
)

// Account is the stored billing state for one account, keyed by the
// caller-supplied account ID. Tier, license key and expiry describe the
// entitlement last granted by the payment provider; the pending fields
// track a checkout that has started but not yet settled.
type Account struct {
	AccountID string `json:"account_id"`

	Tier       string     `json:"tier"`
	LicenseKey string     `json:"license_key,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CancelAt   *time.Time `json:"cancel_at,omitempty"`

	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`

	PendingCheckoutID string `json:"pending_checkout_id,omitempty"`
	PendingTier       string `json:"pending_tier,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot converts the record into the shape entitlement evaluation reads.
func (a *Account) Snapshot() *licensing.Snapshot {
	if a == nil {
		return nil
	}
	return &licensing.Snapshot{
		Tier:       a.Tier,
		LicenseKey: a.LicenseKey,
		ExpiresAt:  a.ExpiresAt,
		CancelAt:   a.CancelAt,
	}
}
