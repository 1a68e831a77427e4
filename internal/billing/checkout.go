package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripeportal "github.com/stripe/stripe-go/v82/billingportal/session"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/store"
	"github.com/tiergate/tiergate/pkg/licensing"
)

var (
	// ErrInvalidTier means the requested tier is unknown or not purchasable.
	ErrInvalidTier = errors.New("invalid tier")
	// ErrTierNotConfigured means no provider price is configured for the tier.
	ErrTierNotConfigured = errors.New("tier has no configured price")
	// ErrNoBillingAccount means the account has never completed a checkout,
	// so there is no provider customer to open a portal for.
	ErrNoBillingAccount = errors.New("account has no billing history")
)

// Initiator starts checkout and billing portal sessions. Initiating a
// checkout only records intent on the account; the tier changes when the
// provider reports settled payment through the webhook.
type Initiator struct {
	store      *store.Store
	prices     map[licensing.Tier]string
	successURL string
	cancelURL  string

	// CreateCheckoutSession and CreatePortalSession call the provider.
	// They default to the live Stripe client and are overridable in tests.
	CreateCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	CreatePortalSession   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
}

// NewInitiator creates an Initiator. prices maps each purchasable tier to
// its provider price ID; tiers without an entry cannot be bought.
func NewInitiator(st *store.Store, prices map[licensing.Tier]string, successURL, cancelURL string) *Initiator {
	return &Initiator{
		store:                 st,
		prices:                prices,
		successURL:            successURL,
		cancelURL:             cancelURL,
		CreateCheckoutSession: stripesession.New,
		CreatePortalSession:   stripeportal.New,
	}
}

// Initiate creates a hosted checkout session for accountID to buy tierName
// and returns the redirect URL. The account's current tier and credential
// are left untouched until payment settles.
func (in *Initiator) Initiate(accountID, tierName string) (string, error) {
	tier, ok := licensing.ParseTier(tierName)
	if !ok || !tier.Paid() {
		metrics.CheckoutTotal.WithLabelValues("invalid_tier").Inc()
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, tierName)
	}
	priceID := strings.TrimSpace(in.prices[tier])
	if priceID == "" {
		metrics.CheckoutTotal.WithLabelValues("unconfigured_tier").Inc()
		return "", fmt.Errorf("%w: %q", ErrTierNotConfigured, tier)
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:        stripelib.String(in.successURL),
		CancelURL:         stripelib.String(in.cancelURL),
		ClientReferenceID: stripelib.String(accountID),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			"account_id": accountID,
			"tier":       string(tier),
		},
	}

	session, err := in.CreateCheckoutSession(params)
	if err != nil {
		metrics.CheckoutTotal.WithLabelValues("provider_error").Inc()
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		metrics.CheckoutTotal.WithLabelValues("provider_error").Inc()
		return "", errors.New("create checkout session: provider returned no redirect URL")
	}

	err = in.store.WithAccountLock(accountID, func() error {
		rec, err := in.store.Get(accountID)
		if err != nil {
			return fmt.Errorf("load account %q: %w", accountID, err)
		}
		if rec == nil {
			rec = &store.Account{AccountID: accountID, Tier: string(licensing.TierFree)}
		}
		rec.PendingCheckoutID = session.ID
		rec.PendingTier = string(tier)
		return in.store.Upsert(rec)
	})
	if err != nil {
		metrics.CheckoutTotal.WithLabelValues("store_error").Inc()
		return "", err
	}

	metrics.CheckoutTotal.WithLabelValues("created").Inc()
	log.Info().
		Str("account_id", accountID).
		Str("tier", string(tier)).
		Str("checkout_session_id", session.ID).
		Msg("checkout session created")
	return session.URL, nil
}

// PortalURL creates a billing portal session for accountID so the customer
// can manage or cancel the subscription with the provider directly.
func (in *Initiator) PortalURL(accountID, returnURL string) (string, error) {
	rec, err := in.store.Get(accountID)
	if err != nil {
		return "", fmt.Errorf("load account %q: %w", accountID, err)
	}
	if rec == nil || strings.TrimSpace(rec.CustomerID) == "" {
		return "", ErrNoBillingAccount
	}

	params := &stripelib.BillingPortalSessionParams{
		Customer: stripelib.String(rec.CustomerID),
	}
	if strings.TrimSpace(returnURL) != "" {
		params.ReturnURL = stripelib.String(returnURL)
	}

	session, err := in.CreatePortalSession(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", errors.New("create portal session: provider returned no redirect URL")
	}
	return session.URL, nil
}
