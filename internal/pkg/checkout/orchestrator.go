// Package checkout opens payments and subscriptions against the provider
// and shapes the result for client-side confirmation. No local state is
// written here; the ledger and subscriber state only change once a
// confirmation arrives through the webhook or record paths.
package checkout

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/config"
	"github.com/stripe/stripe-go/v81"
)

// Provider is the outbound API surface the orchestrator needs.
type Provider interface {
	FindOrCreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error)
	CreatePaymentIntent(ctx context.Context, customerID string, amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int64, metadata map[string]string) (*stripe.Subscription, error)
}

// OneTimeRequest describes a one-time payment to open.
type OneTimeRequest struct {
	Email    string `validate:"required,email"`
	Name     string `validate:"max=191"`
	Amount   int64  `validate:"required,gt=0"`
	Currency string `validate:"required,len=3"`
	ItemName string `validate:"max=191"`
}

// SubscriptionRequest describes a subscription signup to open.
type SubscriptionRequest struct {
	Email     string `validate:"required,email"`
	Name      string `validate:"max=191"`
	PriceID   string `validate:"required"`
	TrialDays int64  `validate:"gte=0,lte=730"`
}

// OneTimeCheckout is handed back to the browser for confirmation.
type OneTimeCheckout struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	CustomerID      string `json:"customer_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// SubscriptionCheckout is handed back to the browser. ClientSecret is
// empty when no upfront payment is required (trial signup).
type SubscriptionCheckout struct {
	SubscriptionID  string `json:"subscription_id"`
	CustomerID      string `json:"customer_id"`
	Status          string `json:"status"`
	ClientSecret    string `json:"client_secret,omitempty"`
	RequiresPayment bool   `json:"requires_payment"`
}

// Orchestrator validates checkout inputs and drives the provider.
type Orchestrator struct {
	provider Provider
	cfg      *config.Config
	validate *validator.Validate
}

// NewOrchestrator wires a checkout orchestrator.
func NewOrchestrator(provider Provider, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// CreateOneTimeIntent resolves the customer and opens a payment intent.
func (o *Orchestrator) CreateOneTimeIntent(ctx context.Context, req OneTimeRequest) (*OneTimeCheckout, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if err := o.validate.Struct(req); err != nil {
		return nil, &billing.ValidationError{Message: err.Error()}
	}
	if !o.cfg.CurrencyAllowed(req.Currency) {
		return nil, &billing.ValidationError{Field: "currency", Message: "is not accepted"}
	}

	cust, err := o.provider.FindOrCreateCustomer(ctx, req.Email, req.Name)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{"customer_email": req.Email}
	if req.ItemName != "" {
		meta["item_name"] = req.ItemName
	}
	pi, err := o.provider.CreatePaymentIntent(ctx, cust.ID, req.Amount, req.Currency, req.ItemName, meta)
	if err != nil {
		return nil, err
	}
	if pi.ClientSecret == "" {
		return nil, &billing.UnexpectedStateError{State: "payment intent without client secret"}
	}

	return &OneTimeCheckout{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		CustomerID:      cust.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
	}, nil
}

// CreateSubscription resolves the customer and opens an incomplete
// subscription whose first invoice the browser confirms.
func (o *Orchestrator) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionCheckout, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.PriceID = strings.TrimSpace(req.PriceID)
	if err := o.validate.Struct(req); err != nil {
		return nil, &billing.ValidationError{Message: err.Error()}
	}

	cust, err := o.provider.FindOrCreateCustomer(ctx, req.Email, req.Name)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"customer_email": req.Email,
		"plan_id":        req.PriceID,
	}
	sub, err := o.provider.CreateSubscription(ctx, cust.ID, req.PriceID, req.TrialDays, meta)
	if err != nil {
		return nil, err
	}

	out := &SubscriptionCheckout{
		SubscriptionID: sub.ID,
		CustomerID:     cust.ID,
		Status:         string(sub.Status),
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil &&
		sub.LatestInvoice.PaymentIntent.ClientSecret != "" {
		out.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
		out.RequiresPayment = true
		return out, nil
	}

	// No payment intent is only legitimate when the subscription is
	// already live: a trial start, or an immediately active signup whose
	// first invoice settled at zero (fully discounted). Anything else
	// means the provider returned a shape we cannot confirm.
	if sub.Status != stripe.SubscriptionStatusTrialing && sub.Status != stripe.SubscriptionStatusActive {
		return nil, &billing.UnexpectedStateError{
			State: "subscription " + string(sub.Status) + " without payable invoice",
		}
	}
	return out, nil
}
