package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"

	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/store"
	"github.com/tiergate/tiergate/pkg/licensing"
)

// settlementTimeout bounds the follow-up subscription fetch when a
// checkout completes before its first payment settles. Webhook handlers
// must answer quickly or the provider starts retrying.
const settlementTimeout = 10 * time.Second

// Reconciler applies payment provider events to stored account state.
// Every handler re-derives the full record under the account lock, so a
// replayed or out-of-order delivery converges on the same state instead
// of corrupting it.
type Reconciler struct {
	store        *store.Store
	codec        *licensing.Codec
	validityDays int

	fetchSubscription func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	now               func() time.Time
}

// NewReconciler creates a Reconciler minting credentials with codec, valid
// for validityDays per billing cycle.
func NewReconciler(st *store.Store, codec *licensing.Codec, validityDays int) *Reconciler {
	return &Reconciler{
		store:             st,
		codec:             codec,
		validityDays:      validityDays,
		fetchSubscription: stripesubscription.Get,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// HandleCheckoutCompleted settles a finished checkout: it correlates the
// session back to an account, records the customer and subscription IDs,
// and grants the purchased tier once payment is confirmed. Sessions that
// complete before payment settles stay pending; the paid invoice event
// finishes the grant later.
func (rc *Reconciler) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	accountID, rec, err := rc.correlateCheckout(session)
	if err != nil {
		return err
	}
	if accountID == "" {
		log.Warn().
			Str("checkout_session_id", session.ID).
			Msg("checkout.session.completed for unknown account, ignoring")
		return nil
	}

	settled := session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required"
	if !settled {
		settled = rc.checkSettlement(ctx, session.Subscription)
	}

	return rc.store.WithAccountLock(accountID, func() error {
		rec, err = rc.store.Get(accountID)
		if err != nil {
			return fmt.Errorf("load account %q: %w", accountID, err)
		}
		if rec == nil {
			rec = &store.Account{AccountID: accountID, Tier: string(licensing.TierFree)}
		}

		if cust := strings.TrimSpace(session.Customer); cust != "" {
			rec.CustomerID = cust
		}
		if sub := strings.TrimSpace(session.Subscription); sub != "" {
			rec.SubscriptionID = sub
		}

		if !settled {
			// Keep the pending marker so the invoice event can still
			// correlate and finish the grant.
			log.Info().
				Str("account_id", accountID).
				Str("checkout_session_id", session.ID).
				Str("payment_status", session.PaymentStatus).
				Msg("checkout completed but unsettled, deferring grant")
			return rc.store.Upsert(rec)
		}

		tier := rc.grantTier(rec, session.Metadata)
		if err := rc.grant(rec, tier); err != nil {
			return err
		}
		log.Info().
			Str("account_id", accountID).
			Str("tier", string(tier)).
			Str("subscription_id", rec.SubscriptionID).
			Msg("checkout settled, tier granted")
		return rc.store.Upsert(rec)
	})
}

// HandleInvoicePaid renews (or, for a checkout that settled late, grants)
// the subscription's tier and mints a fresh credential with a full
// validity window. A paid invoice also clears any pending cancellation,
// covering customers who cancel and then change their minds.
func (rc *Reconciler) HandleInvoicePaid(ctx context.Context, inv Invoice) error {
	subID := inv.SubscriptionID()
	if subID == "" || !IsSafeStripeID(subID) {
		log.Warn().Str("invoice_id", inv.ID).Msg("paid invoice without usable subscription id, ignoring")
		return nil
	}

	rec, err := rc.store.GetBySubscriptionID(subID)
	if err != nil {
		return fmt.Errorf("lookup account by subscription %q: %w", subID, err)
	}
	if rec == nil {
		log.Warn().
			Str("invoice_id", inv.ID).
			Str("subscription_id", subID).
			Msg("paid invoice for unknown subscription, ignoring")
		return nil
	}

	accountID := rec.AccountID
	return rc.store.WithAccountLock(accountID, func() error {
		rec, err = rc.store.Get(accountID)
		if err != nil {
			return fmt.Errorf("load account %q: %w", accountID, err)
		}
		if rec == nil {
			return nil
		}

		tier := rc.grantTier(rec, nil)
		if err := rc.grant(rec, tier); err != nil {
			return err
		}
		log.Info().
			Str("account_id", accountID).
			Str("tier", string(tier)).
			Str("invoice_id", inv.ID).
			Msg("invoice paid, credential renewed")
		return rc.store.Upsert(rec)
	})
}

// HandleSubscriptionUpdated tracks cancellation intent. A subscription
// scheduled to end (or already terminal) marks the account cancel-pending;
// reactivating it clears the marker. Tier and credential are never touched
// here, paid access runs until the recorded expiry.
func (rc *Reconciler) HandleSubscriptionUpdated(ctx context.Context, sub Subscription) error {
	rec, err := rc.lookupBySubscription(sub.ID)
	if err != nil || rec == nil {
		return err
	}

	accountID := rec.AccountID
	return rc.store.WithAccountLock(accountID, func() error {
		rec, err = rc.store.Get(accountID)
		if err != nil {
			return fmt.Errorf("load account %q: %w", accountID, err)
		}
		if rec == nil {
			return nil
		}

		ending := sub.CancelAtPeriodEnd || IsTerminalSubscriptionStatus(sub.Status)
		switch {
		case ending:
			rec.CancelAt = rc.cancelTime(sub, rec)
			log.Info().
				Str("account_id", accountID).
				Str("subscription_status", sub.Status).
				Msg("subscription ending, cancellation recorded")
		case isSettledSubscriptionStatus(sub.Status) && rec.CancelAt != nil:
			rec.CancelAt = nil
			log.Info().
				Str("account_id", accountID).
				Msg("subscription reactivated, cancellation cleared")
		default:
			return nil
		}
		return rc.store.Upsert(rec)
	})
}

// HandleSubscriptionDeleted records that billing has stopped for good.
// Access still runs to the recorded expiry; the expiry sweeper and lazy
// status evaluation handle the downgrade.
func (rc *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub Subscription) error {
	rec, err := rc.lookupBySubscription(sub.ID)
	if err != nil || rec == nil {
		return err
	}

	accountID := rec.AccountID
	return rc.store.WithAccountLock(accountID, func() error {
		rec, err = rc.store.Get(accountID)
		if err != nil {
			return fmt.Errorf("load account %q: %w", accountID, err)
		}
		if rec == nil {
			return nil
		}

		rec.CancelAt = rc.cancelTime(sub, rec)
		log.Info().
			Str("account_id", accountID).
			Str("subscription_id", sub.ID).
			Msg("subscription deleted, access runs to expiry")
		return rc.store.Upsert(rec)
	})
}

// HandleInvoicePaymentFailed only logs. The provider retries payment on
// its own schedule and emits subscription.updated/deleted if it gives up,
// so no state change is warranted yet.
func (rc *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, inv Invoice) error {
	log.Warn().
		Str("invoice_id", inv.ID).
		Str("subscription_id", inv.SubscriptionID()).
		Str("customer_id", inv.Customer).
		Msg("invoice payment failed")
	return nil
}

// correlateCheckout resolves the account a checkout session belongs to:
// first by the pending checkout ID recorded at initiation, then by the
// metadata and client reference the session was created with.
func (rc *Reconciler) correlateCheckout(session CheckoutSession) (string, *store.Account, error) {
	if id := strings.TrimSpace(session.ID); id != "" && IsSafeStripeID(id) {
		rec, err := rc.store.GetByCheckoutID(id)
		if err != nil {
			return "", nil, fmt.Errorf("lookup account by checkout %q: %w", id, err)
		}
		if rec != nil {
			return rec.AccountID, rec, nil
		}
	}
	if accountID := strings.TrimSpace(session.Metadata["account_id"]); accountID != "" {
		return accountID, nil, nil
	}
	if accountID := strings.TrimSpace(session.ClientReferenceID); accountID != "" {
		return accountID, nil, nil
	}
	return "", nil, nil
}

func (rc *Reconciler) lookupBySubscription(subID string) (*store.Account, error) {
	subID = strings.TrimSpace(subID)
	if subID == "" || !IsSafeStripeID(subID) {
		return nil, nil
	}
	rec, err := rc.store.GetBySubscriptionID(subID)
	if err != nil {
		return nil, fmt.Errorf("lookup account by subscription %q: %w", subID, err)
	}
	if rec == nil {
		log.Warn().Str("subscription_id", subID).Msg("event for unknown subscription, ignoring")
	}
	return rec, nil
}

// checkSettlement asks the provider whether the subscription behind an
// unsettled checkout is already paid. Failures report unsettled; the paid
// invoice event will complete the grant.
func (rc *Reconciler) checkSettlement(ctx context.Context, subID string) bool {
	subID = strings.TrimSpace(subID)
	if subID == "" || !IsSafeStripeID(subID) {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, settlementTimeout)
	defer cancel()

	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := rc.fetchSubscription(subID, params)
	if err != nil {
		log.Warn().Err(err).
			Str("subscription_id", subID).
			Msg("settlement check failed, deferring grant to invoice event")
		return false
	}
	return sub != nil && isSettledSubscriptionStatus(string(sub.Status))
}

// grantTier picks the tier to grant: session metadata first, then the
// pending tier recorded at checkout, then the account's current paid tier
// for renewals.
func (rc *Reconciler) grantTier(rec *store.Account, metadata map[string]string) licensing.Tier {
	if metadata != nil {
		if tier, ok := licensing.ParseTier(metadata["tier"]); ok && tier.Paid() {
			return tier
		}
	}
	if tier, ok := licensing.ParseTier(rec.PendingTier); ok && tier.Paid() {
		return tier
	}
	if tier, ok := licensing.ParseTier(rec.Tier); ok && tier.Paid() {
		return tier
	}
	return licensing.TierPro
}

// grant mints a fresh credential and writes the paid state onto rec. The
// pending checkout marker and any cancellation intent are cleared: a new
// payment always restarts a clean validity window.
func (rc *Reconciler) grant(rec *store.Account, tier licensing.Tier) error {
	token, expires, err := rc.codec.Issue(tier, rc.validityDays)
	if err != nil {
		return fmt.Errorf("issue credential for %q: %w", rec.AccountID, err)
	}

	rec.Tier = string(tier)
	rec.LicenseKey = token
	rec.ExpiresAt = &expires
	rec.CancelAt = nil
	rec.PendingCheckoutID = ""
	rec.PendingTier = ""

	metrics.LicensesIssuedTotal.WithLabelValues(string(tier)).Inc()
	return nil
}

// cancelTime picks the moment access should end: the provider's period
// end when present, otherwise the expiry already recorded on the account,
// otherwise now.
func (rc *Reconciler) cancelTime(sub Subscription, rec *store.Account) *time.Time {
	if end := sub.PeriodEnd(); end > 0 {
		t := time.Unix(end, 0).UTC()
		return &t
	}
	if rec.ExpiresAt != nil {
		return rec.ExpiresAt
	}
	t := rc.now()
	return &t
}
