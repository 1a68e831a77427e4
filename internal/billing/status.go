package billing

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tiergate/tiergate/internal/store"
	"github.com/tiergate/tiergate/pkg/licensing"
)

// StatusEvaluator answers status queries. The stored record is treated as
// a cache: the entitlement is re-derived on every read, so an account whose
// expiry passed reports free even if no webhook or sweep has run yet.
type StatusEvaluator struct {
	store *store.Store
	now   func() time.Time
}

// NewStatusEvaluator creates a StatusEvaluator.
func NewStatusEvaluator(st *store.Store) *StatusEvaluator {
	return &StatusEvaluator{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// StatusOf returns the entitlement accountID currently holds. Unknown
// accounts report free; that is an answer, not an error. When evaluation
// downgrades a stale paid record the downgrade is persisted best-effort,
// the response never waits on or fails with the write.
func (e *StatusEvaluator) StatusOf(accountID string) (licensing.Entitlement, error) {
	rec, err := e.store.Get(accountID)
	if err != nil {
		return licensing.Entitlement{}, fmt.Errorf("load account %q: %w", accountID, err)
	}

	ent := licensing.Evaluate(rec.Snapshot(), e.now())
	if rec != nil && ent.Tier == licensing.TierFree && rec.Tier != string(licensing.TierFree) {
		e.persistDowngrade(accountID)
	}
	return ent, nil
}

func (e *StatusEvaluator) persistDowngrade(accountID string) {
	err := e.store.WithAccountLock(accountID, func() error {
		rec, err := e.store.Get(accountID)
		if err != nil {
			return err
		}
		// Re-check under the lock; a renewal may have landed since.
		if rec == nil || licensing.Evaluate(rec.Snapshot(), e.now()).Tier != licensing.TierFree {
			return nil
		}
		downgradeToFree(rec)
		return e.store.Upsert(rec)
	})
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("persisting lazy downgrade failed")
	}
}

// downgradeToFree strips the paid state from rec. The customer ID stays so
// the billing portal still works for lapsed customers.
func downgradeToFree(rec *store.Account) {
	rec.Tier = string(licensing.TierFree)
	rec.LicenseKey = ""
	rec.ExpiresAt = nil
	rec.CancelAt = nil
	rec.SubscriptionID = ""
}
