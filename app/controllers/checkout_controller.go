package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"

	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/checkout"
	"github.com/kessaihq/kessai/internal/pkg/config"
)

// SubscriptionAPI is the provider surface the cancel and sync handlers use.
type SubscriptionAPI interface {
	CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amount int64) (*stripe.Refund, error)
}

var (
	checkoutOrch   *checkout.Orchestrator
	providerAPI    SubscriptionAPI
	appConfig      *config.Config
	requestTimeout = 20 * time.Second
)

// InitializeCheckoutController wires the checkout handler dependencies.
func InitializeCheckoutController(orch *checkout.Orchestrator, api SubscriptionAPI, cfg *config.Config) {
	checkoutOrch = orch
	providerAPI = api
	appConfig = cfg
}

type recordPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	SubscriptionID  string `json:"subscription_id"`
	Email           string `json:"email"`
	CustomerID      string `json:"customer_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	ItemName        string `json:"item_name"`
	PlanID          string `json:"plan_id"`
}

type cancelSubscriptionRequest struct {
	Email          string `json:"email"`
	SubscriptionID string `json:"subscription_id"`
}

// HandleCheckoutConfig exposes the client-side key, mode and CSRF token
// for the payment form.
func HandleCheckoutConfig(c *fiber.Ctx) error {
	csrfToken, _ := c.Locals("csrf").(string)
	return c.JSON(fiber.Map{
		"publishable_key": appConfig.PublishableKey(),
		"mode":            appConfig.Mode,
		"currencies":      appConfig.AllowedCurrencies,
		"csrf_token":      csrfToken,
	})
}

// HandleCheckoutOnetime opens a one-time payment for browser confirmation.
func HandleCheckoutOnetime(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		ItemName string `json:"item_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	out, err := checkoutOrch.CreateOneTimeIntent(ctx, checkout.OneTimeRequest{
		Email:    req.Email,
		Name:     req.Name,
		Amount:   req.Amount,
		Currency: req.Currency,
		ItemName: req.ItemName,
	})
	if err != nil {
		return mapBillingError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

// HandleCheckoutSubscription opens a subscription signup.
func HandleCheckoutSubscription(c *fiber.Ctx) error {
	var req struct {
		Email     string `json:"email"`
		Name      string `json:"name"`
		PlanID    string `json:"plan_id"`
		TrialDays int64  `json:"trial_days"`
	}
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	out, err := checkoutOrch.CreateSubscription(ctx, checkout.SubscriptionRequest{
		Email:     req.Email,
		Name:      req.Name,
		PriceID:   req.PlanID,
		TrialDays: req.TrialDays,
	})
	if err != nil {
		return mapBillingError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

// HandleCheckoutRecord is the client-reported confirmation path. It is
// idempotent: a duplicate report of the same transaction succeeds without
// a second ledger row.
func HandleCheckoutRecord(c *fiber.Ctx) error {
	var req recordPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}

	// Client reports are untrusted input; a currency outside the
	// whitelist falls back to the default instead of reaching the ledger.
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if !appConfig.CurrencyAllowed(currency) {
		log.Warnf("[Checkout] Unaccepted currency %q in payment report, using %s", req.Currency, appConfig.DefaultCurrency())
		currency = appConfig.DefaultCurrency()
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := billingService.RecordConfirmedPayment(ctx, billing.ConfirmedPayment{
		PaymentIntentID: req.PaymentIntentID,
		SubscriptionID:  req.SubscriptionID,
		Email:           req.Email,
		CustomerID:      req.CustomerID,
		Amount:          req.Amount,
		Currency:        currency,
		ItemName:        req.ItemName,
		PlanID:          req.PlanID,
	})
	if err != nil {
		return mapBillingError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleSubscriptionCancel lets a subscriber cancel their own
// subscription. The subscription id must match the one on record for the
// requesting email.
func HandleSubscriptionCancel(c *fiber.Ctx) error {
	var req cancelSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if req.Email == "" || req.SubscriptionID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "email and subscription_id are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	subscriber, owns, err := billingService.SubscriberOwnsSubscription(ctx, req.Email, req.SubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return jsonError(c, fiber.StatusForbidden, "forbidden", "Subscription does not belong to this subscriber")
		}
		return mapBillingError(c, err)
	}
	if !owns {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Subscription does not belong to this subscriber")
	}

	if _, err := providerAPI.CancelSubscription(ctx, req.SubscriptionID); err != nil {
		return mapBillingError(c, err)
	}

	status, _, err := billingService.ApplySubscriptionStatus(ctx, subscriber.ID, billing.StatusCanceled)
	if err != nil {
		log.Errorf("[Checkout] Cancel succeeded upstream but local status update failed for subscriber %d: %v", subscriber.ID, err)
		return mapBillingError(c, err)
	}
	billingService.NotifyCanceled(ctx, subscriber, req.SubscriptionID)

	return c.JSON(fiber.Map{"success": true, "status": status})
}
