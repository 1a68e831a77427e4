package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/store"
	"github.com/tiergate/tiergate/pkg/licensing"
)

const expirySweepInterval = 1 * time.Hour

// ExpirySweeper periodically downgrades accounts whose paid expiry has
// passed. Status reads already evaluate lazily; the sweeper keeps stored
// state and the per-tier gauges honest for accounts nobody polls.
type ExpirySweeper struct {
	store    *store.Store
	interval time.Duration
	now      func() time.Time
}

// NewExpirySweeper creates an ExpirySweeper.
func NewExpirySweeper(st *store.Store) *ExpirySweeper {
	return &ExpirySweeper{
		store:    st,
		interval: expirySweepInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep downgrades every paid account whose expiry has passed.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	now := s.now()
	expired, err := s.store.ListExpiredPaid(now)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep: listing expired accounts failed")
		return
	}

	for _, rec := range expired {
		if ctx.Err() != nil {
			return
		}
		if rec == nil {
			continue
		}

		accountID := rec.AccountID
		err := s.store.WithAccountLock(accountID, func() error {
			rec, err := s.store.Get(accountID)
			if err != nil {
				return err
			}
			// Re-check under the lock; a renewal may have landed since
			// the list query ran.
			if rec == nil || licensing.Evaluate(rec.Snapshot(), s.now()).Tier != licensing.TierFree {
				return nil
			}
			if rec.Tier == string(licensing.TierFree) {
				return nil
			}

			log.Info().
				Str("account_id", accountID).
				Str("tier", rec.Tier).
				Time("expired_at", valueOrZero(rec.ExpiresAt)).
				Msg("paid tier expired, downgrading to free")

			downgradeToFree(rec)
			metrics.ExpirySweepDowngrades.Inc()
			return s.store.Upsert(rec)
		})
		if err != nil {
			log.Error().Err(err).Str("account_id", accountID).Msg("expiry sweep: downgrade failed")
		}
	}
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
