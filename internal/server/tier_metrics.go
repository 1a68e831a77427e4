package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/store"
	"github.com/tiergate/tiergate/pkg/licensing"
)

const tierMetricsInterval = 30 * time.Second

func runTierMetrics(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(tierMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateTierGauges(st)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateTierGauges(st)
		}
	}
}

func updateTierGauges(st *store.Store) {
	counts, err := st.CountByTier()
	if err != nil {
		log.Error().Err(err).Msg("Failed to update tier metrics")
		return
	}

	known := []string{
		string(licensing.TierFree),
		string(licensing.TierPro),
		string(licensing.TierDiamond),
	}

	seen := make(map[string]struct{}, len(counts))

	// Ensure a stable label set for known tiers.
	for _, tier := range known {
		seen[tier] = struct{}{}
		metrics.AccountsByTier.WithLabelValues(tier).Set(float64(counts[tier]))
	}

	// Record any unexpected tiers too (bounded by DB content).
	for tier, c := range counts {
		if _, ok := seen[tier]; ok {
			continue
		}
		metrics.AccountsByTier.WithLabelValues(tier).Set(float64(c))
	}
}
