// Package stripeapi wraps the outbound Stripe API surface used by the
// payment core. Every call carries a bounded context and maps upstream
// failures into the billing error taxonomy.
package stripeapi

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/config"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Client is the concrete Stripe API client for the configured mode.
type Client struct {
	api     *client.API
	timeout time.Duration
}

// New builds a client for the mode selected in cfg.
func New(cfg *config.Config) *Client {
	api := &client.API{}
	api.Init(cfg.SecretKey(), nil)
	return &Client{api: api, timeout: cfg.ProviderTimeout}
}

// NewWithKey builds a client around an explicit API key.
func NewWithKey(key string, timeout time.Duration) *Client {
	api := &client.API{}
	api.Init(key, nil)
	return &Client{api: api, timeout: timeout}
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// FindOrCreateCustomer resolves the provider customer for an email,
// reusing an existing customer when one exists so retried checkouts do
// not multiply identities.
func (c *Client) FindOrCreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := c.api.Customers.List(listParams)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr(err)
	}

	createParams := &stripe.CustomerParams{Email: stripe.String(email)}
	createParams.Context = ctx
	if name != "" {
		createParams.Name = stripe.String(name)
	}
	cust, err := c.api.Customers.New(createParams)
	if err != nil {
		return nil, wrapErr(err)
	}
	return cust, nil
}

// CreatePaymentIntent opens a one-time payment for client-side
// confirmation and returns the intent carrying the client secret.
func (c *Client) CreatePaymentIntent(ctx context.Context, customerID string, amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if description != "" {
		params.Description = stripe.String(description)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return pi, nil
}

// CreateSubscription opens a subscription in default_incomplete payment
// behavior, expanding the first invoice's payment intent so the caller
// can hand its client secret to the browser.
func (c *Client) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int64, metadata map[string]string) (*stripe.Subscription, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	params.AddExpand("pending_setup_intent")
	if trialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(trialDays)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return sub, nil
}

// RetrieveSubscription fetches the current provider-side subscription.
func (c *Client) RetrieveSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return sub, nil
}

// CancelSubscription cancels a subscription immediately. A subscription
// that no longer exists or is already canceled upstream counts as
// success: the goal state is reached either way.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		if isAlreadyGone(err) {
			log.Printf("[Provider] Subscription %s already gone upstream, treating cancel as success", subscriptionID)
			return &stripe.Subscription{ID: subscriptionID, Status: stripe.SubscriptionStatusCanceled}, nil
		}
		return nil, wrapErr(err)
	}
	return sub, nil
}

// CreateRefund refunds a payment intent. amount<=0 refunds the full
// charge.
func (c *Client) CreateRefund(ctx context.Context, paymentIntentID string, amount int64) (*stripe.Refund, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	refund, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return refund, nil
}

func isAlreadyGone(err error) bool {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return false
	}
	if serr.Code == stripe.ErrorCodeResourceMissing {
		return true
	}
	msg := strings.ToLower(serr.Msg)
	return strings.Contains(msg, "no such subscription") ||
		strings.Contains(msg, "canceled subscription")
}

func wrapErr(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return &billing.ProviderError{
			Code:    string(serr.Code),
			Message: serr.Msg,
			Err:     err,
		}
	}
	return &billing.ProviderError{Message: err.Error(), Err: err}
}
