package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/store"
)

type statusResponse struct {
	Version       string         `json:"version"`
	TotalAccounts int            `json:"total_accounts"`
	ByTier        map[string]int `json:"by_tier"`
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity (readiness probe).
func HandleReadyz(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleServiceStatus returns a handler that reports aggregate account status.
func HandleServiceStatus(st *store.Store, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := st.CountByTier()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Opportunistically sync gauges on status calls (in addition to
		// the background updater).
		for tier, c := range counts {
			metrics.AccountsByTier.WithLabelValues(tier).Set(float64(c))
		}

		total := 0
		for _, c := range counts {
			total += c
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Version:       version,
			TotalAccounts: total,
			ByTier:        counts,
		})
	}
}

// HandleListAccounts returns an authenticated handler that lists all accounts.
func HandleListAccounts(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Optional tier filter
		tierFilter := strings.TrimSpace(r.URL.Query().Get("tier"))

		accounts, err := st.List()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if tierFilter != "" {
			filtered := accounts[:0]
			for _, a := range accounts {
				if a.Tier == tierFilter {
					filtered = append(filtered, a)
				}
			}
			accounts = filtered
		}
		if accounts == nil {
			accounts = []*store.Account{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": accounts,
			"count":    len(accounts),
		})
	}
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			// Also check Authorization: Bearer <key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if adminKey == "" || key == "" || key != adminKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
