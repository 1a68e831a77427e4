package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiergate/tiergate/internal/billing"
	"github.com/tiergate/tiergate/internal/store"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config     *Config
	Store      *store.Store
	Initiator  *billing.Initiator
	Evaluator  *billing.StatusEvaluator
	Reconciler *billing.Reconciler
	Version    string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))

	// Status and metrics are admin-only.
	mux.Handle("/status", adminAuth(HandleServiceStatus(deps.Store, deps.Version)))
	mux.Handle("/metrics", adminAuth(promhttp.Handler()))

	// Payment webhook (signature-authenticated)
	webhookHandler := billing.NewWebhookHandler(deps.Config.StripeWebhookSecret, deps.Reconciler)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/webhook", RequestIDMiddleware(webhookLimiter.Middleware(webhookHandler)))

	// Public API
	apiLimiter := NewRateLimiter(60, time.Minute)
	api := func(h http.Handler) http.Handler {
		return RequestIDMiddleware(apiLimiter.Middleware(h))
	}
	mux.Handle("/api/checkout", api(HandleCheckout(deps.Initiator)))
	mux.Handle("/api/status", api(HandleStatus(deps.Evaluator)))
	mux.Handle("/api/portal", api(HandlePortal(deps.Initiator, deps.Config.PortalReturnURL)))

	// Admin API (key-authenticated)
	mux.Handle("/admin/accounts", adminAuth(HandleListAccounts(deps.Store)))
}
