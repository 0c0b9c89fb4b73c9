package billing

import (
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/billingportal/session"
	checksession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/dukerupert/stride/internal/model"
)

// ErrNoPrice is returned for plans that cannot be bought.
var ErrNoPrice = errors.New("plan has no price")

type Config struct {
	SecretKey      string
	WebhookSecret  string
	PremiumPriceID string
	ProPriceID     string
	SuccessURL     string
	CancelURL      string
}

// Enabled reports whether checkout can be offered.
func (c Config) Enabled() bool {
	return c.SecretKey != ""
}

// PriceIDForPlan returns the Stripe price for a paid plan.
func (c Config) PriceIDForPlan(plan model.Plan) (string, error) {
	var id string
	switch plan {
	case model.PlanPremium:
		id = c.PremiumPriceID
	case model.PlanPro:
		id = c.ProPriceID
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrNoPrice, plan)
	}
	return id, nil
}

// PlanForPrice maps a Stripe price back to a plan. Unknown prices map to free.
func (c Config) PlanForPrice(priceID string) model.Plan {
	switch {
	case priceID == "":
		return model.PlanFree
	case priceID == c.ProPriceID:
		return model.PlanPro
	case priceID == c.PremiumPriceID:
		return model.PlanPremium
	}
	return model.PlanFree
}

// Gateway is the Stripe surface the handlers depend on.
type Gateway interface {
	CreateCustomer(email string) (string, error)
	CreateCheckoutSession(customerID, priceID string, userID int64, plan model.Plan) (string, error)
	CreateBillingPortalSession(customerID, returnURL string) (string, error)
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CreateCustomer creates a Stripe customer and returns the customer ID.
func (c *Client) CreateCustomer(email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a subscription checkout session and returns
// its URL. The user and plan travel with the session so the webhook can
// apply the upgrade.
func (c *Client) CreateCheckoutSession(customerID, priceID string, userID int64, plan model.Plan) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID:   stripe.String(strconv.FormatInt(userID, 10)),
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	params.AddMetadata("plan", string(plan))
	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session and returns the URL.
func (c *Client) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
