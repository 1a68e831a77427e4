package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tiergate/tiergate/internal/billing"
	"github.com/tiergate/tiergate/internal/logging"
)

const requestBodyLimit = 64 * 1024 // 64 KiB

type checkoutRequest struct {
	AccountID string `json:"account_id"`
	Tier      string `json:"tier"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type portalRequest struct {
	AccountID string `json:"account_id"`
}

type portalResponse struct {
	PortalURL string `json:"portal_url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleCheckout starts a hosted checkout for an account and tier.
func HandleCheckout(initiator *billing.Initiator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}

		var req checkoutRequest
		r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		accountID := strings.TrimSpace(req.AccountID)
		if accountID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "account_id is required"})
			return
		}

		url, err := initiator.Initiate(accountID, req.Tier)
		switch {
		case errors.Is(err, billing.ErrInvalidTier), errors.Is(err, billing.ErrTierNotConfigured):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		case err != nil:
			log.Error().Err(err).
				Str("request_id", logging.RequestIDFrom(r.Context())).
				Str("account_id", accountID).
				Msg("checkout initiation failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "unable to create checkout session"})
			return
		}

		writeJSON(w, http.StatusOK, checkoutResponse{CheckoutURL: url})
	}
}

// HandleStatus reports the entitlement an account currently holds. Unknown
// accounts report the free tier with 200, not 404.
func HandleStatus(evaluator *billing.StatusEvaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}

		accountID := strings.TrimSpace(r.URL.Query().Get("account"))
		if accountID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "account query parameter is required"})
			return
		}

		ent, err := evaluator.StatusOf(accountID)
		if err != nil {
			log.Error().Err(err).
				Str("request_id", logging.RequestIDFrom(r.Context())).
				Str("account_id", accountID).
				Msg("status lookup failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		writeJSON(w, http.StatusOK, ent)
	}
}

// HandlePortal opens the provider billing portal for an existing customer.
func HandlePortal(initiator *billing.Initiator, returnURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}

		var req portalRequest
		r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		accountID := strings.TrimSpace(req.AccountID)
		if accountID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "account_id is required"})
			return
		}

		url, err := initiator.PortalURL(accountID, returnURL)
		switch {
		case errors.Is(err, billing.ErrNoBillingAccount):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "account has no billing history"})
			return
		case err != nil:
			log.Error().Err(err).
				Str("request_id", logging.RequestIDFrom(r.Context())).
				Str("account_id", accountID).
				Msg("portal session failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "unable to create portal session"})
			return
		}

		writeJSON(w, http.StatusOK, portalResponse{PortalURL: url})
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("server: encode response")
	}
}
