package billing

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

type CheckoutHandler struct {
	gateway Gateway
	cfg     Config
	users   *store.UserStore
	logger  *slog.Logger
}

func NewCheckoutHandler(gw Gateway, cfg Config, users *store.UserStore, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		gateway: gw,
		cfg:     cfg,
		users:   users,
		logger:  logger.With("component", "billing"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// CreateCheckoutSession starts a Stripe checkout for the requested plan.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	var req struct {
		Plan model.Plan `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request")
		return
	}

	priceID, err := h.cfg.PriceIDForPlan(req.Plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	user, err := h.users.GetByID(userID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	if user.Plan == req.Plan {
		writeError(w, http.StatusConflict, "already_subscribed", "already on this plan")
		return
	}

	// Ensure Stripe customer exists
	customerID := ""
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = h.gateway.CreateCustomer(user.Email)
		if err != nil {
			h.logger.Error("create stripe customer", "user_id", userID, "error", err)
			writeError(w, http.StatusBadGateway, "billing_unavailable", "failed to create customer")
			return
		}
		if err := h.users.SetStripeCustomerID(user.ID, customerID); err != nil {
			h.logger.Error("save stripe customer id", "user_id", userID, "error", err)
		}
	}

	url, err := h.gateway.CreateCheckoutSession(customerID, priceID, user.ID, req.Plan)
	if err != nil {
		h.logger.Error("create checkout session", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "billing_unavailable", "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// BillingPortal returns a Stripe billing portal URL for managing the subscription.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(auth.UserID(r.Context()))
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	if user.StripeCustomerID == nil {
		writeError(w, http.StatusBadRequest, "no_billing_account", "no billing account")
		return
	}

	returnURL := r.Header.Get("Referer")
	if returnURL == "" {
		returnURL = h.cfg.SuccessURL
	}

	url, err := h.gateway.CreateBillingPortalSession(*user.StripeCustomerID, returnURL)
	if err != nil {
		h.logger.Error("create portal session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadGateway, "billing_unavailable", "failed to create portal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
