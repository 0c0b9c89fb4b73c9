package billing

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	stripe "github.com/stripe/stripe-go/v84"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

// PlanChangeFunc is called after a user's plan changes.
type PlanChangeFunc func(userID int64, plan model.Plan)

type WebhookHandler struct {
	gateway  Gateway
	cfg      Config
	users    *store.UserStore
	onChange PlanChangeFunc
	logger   *slog.Logger
}

func NewWebhookHandler(gw Gateway, cfg Config, users *store.UserStore, onChange PlanChangeFunc, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway:  gw,
		cfg:      cfg,
		users:    users,
		onChange: onChange,
		logger:   logger.With("component", "billing"),
	}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.gateway.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.Apply(event); err != nil {
		h.logger.Error("apply webhook event", "type", event.Type, "id", event.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Apply updates the affected user's plan for the events that change it.
// Other event types are ignored.
func (h *WebhookHandler) Apply(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(event)
	case "customer.subscription.updated":
		return h.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(event)
	}
	return nil
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	userID, err := strconv.ParseInt(sess.ClientReferenceID, 10, 64)
	if err != nil {
		h.logger.Warn("checkout session without user reference", "session_id", sess.ID)
		return nil
	}
	user, err := h.users.GetByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		h.logger.Warn("checkout for unknown user", "user_id", userID)
		return nil
	}

	if sess.Customer != nil && sess.Customer.ID != "" {
		if err := h.users.SetStripeCustomerID(user.ID, sess.Customer.ID); err != nil {
			return err
		}
	}

	plan := model.Plan(sess.Metadata["plan"])
	if !plan.Valid() || plan == model.PlanFree {
		h.logger.Warn("checkout session with unknown plan", "session_id", sess.ID, "plan", plan)
		return nil
	}
	return h.setPlan(user, plan)
}

func (h *WebhookHandler) handleSubscriptionUpdated(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	user, err := h.userForSubscription(&sub)
	if err != nil || user == nil {
		return err
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		var priceID string
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			priceID = sub.Items.Data[0].Price.ID
		}
		return h.setPlan(user, h.cfg.PlanForPrice(priceID))
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return h.setPlan(user, model.PlanFree)
	}
	// past_due and friends keep the current plan while Stripe retries.
	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	user, err := h.userForSubscription(&sub)
	if err != nil || user == nil {
		return err
	}
	return h.setPlan(user, model.PlanFree)
}

func (h *WebhookHandler) userForSubscription(sub *stripe.Subscription) (*model.User, error) {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, nil
	}
	user, err := h.users.GetByStripeCustomerID(sub.Customer.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		h.logger.Warn("subscription for unknown customer", "customer_id", sub.Customer.ID)
	}
	return user, nil
}

func (h *WebhookHandler) setPlan(user *model.User, plan model.Plan) error {
	if user.Plan == plan {
		return nil
	}
	if err := h.users.SetPlan(user.ID, plan); err != nil {
		return err
	}
	h.logger.Info("plan changed", "user_id", user.ID, "from", user.Plan, "to", plan)
	if h.onChange != nil {
		h.onChange(user.ID, plan)
	}
	return nil
}
