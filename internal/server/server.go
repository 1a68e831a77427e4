package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/tiergate/tiergate/internal/billing"
	"github.com/tiergate/tiergate/internal/logging"
	"github.com/tiergate/tiergate/internal/store"
	"github.com/tiergate/tiergate/pkg/licensing"
)

// Run starts the license service HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     envOrDefault("TG_LOG_LEVEL", "info"),
		Component: "tiergate",
	})

	log.Info().Str("version", version).Msg("Starting tiergate license service")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stripelib.Key = cfg.StripeAPIKey

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	defer st.Close()

	codec := licensing.NewCodec(cfg.LicenseSecret)
	reconciler := billing.NewReconciler(st, codec, cfg.LicenseValidityDays)
	initiator := billing.NewInitiator(st, cfg.Prices(), cfg.SuccessURL, cfg.CancelURL)
	evaluator := billing.NewStatusEvaluator(st)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:     cfg,
		Store:      st,
		Initiator:  initiator,
		Evaluator:  evaluator,
		Reconciler: reconciler,
		Version:    version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start expiry sweeper
	sweeper := billing.NewExpirySweeper(st)
	go sweeper.Run(ctx)

	// Start metrics updater
	go runTierMetrics(ctx, st)

	// Start server in background
	go func() {
		log.Info().Str("addr", addr).Msg("License service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("License service stopped")
	return nil
}
