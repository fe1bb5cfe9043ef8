package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/kessaihq/kessai/app/models"
	"github.com/stripe/stripe-go/v81"
	"gorm.io/gorm"
)

// Service interprets verified provider events and client-reported
// confirmations and drives the ledger and subscriber state updates.
type Service struct {
	repo   Repository
	roles  RoleApplier
	notify Dispatcher
}

// NewService creates a reconciliation service from an injected repository.
// Role application and notifications default to no-ops until set.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, roles: noopRoles{}, notify: noopDispatcher{}}
}

// NewServiceFromDB creates a reconciliation service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithRoleApplier sets the external access-control hook.
func (s *Service) WithRoleApplier(r RoleApplier) *Service {
	if r != nil {
		s.roles = r
	}
	return s
}

// WithDispatcher sets the outbound notification hook.
func (s *Service) WithDispatcher(d Dispatcher) *Service {
	if d != nil {
		s.notify = d
	}
	return s
}

// RecordWebhookEvent persists a verified webhook payload idempotently.
// A redelivered event id reports created=false and is not reprocessed.
func (s *Service) RecordWebhookEvent(ctx context.Context, event *stripe.Event, payload []byte) (bool, *models.WebhookEvent, error) {
	_ = ctx
	ev := &models.WebhookEvent{
		EventID:     event.ID,
		EventType:   string(event.Type),
		Livemode:    event.Livemode,
		PayloadJSON: string(payload),
	}
	return s.repo.CreateWebhookEventIfNotExists(ev)
}

// MarkWebhookProcessed marks an event as handled and stores an optional
// processing error for operator review.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ProcessEvent applies one verified event to local state. The returned
// processed flag reports whether the event caused (or idempotently
// confirmed) a state change; unrecognized types are acknowledged without
// effect for forward compatibility. Any error is per-event: the caller
// acknowledges receipt and records the failure instead of failing the
// whole delivery stream.
func (s *Service) ProcessEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	switch event.Type {
	case "payment_intent.succeeded":
		return s.handlePaymentIntentSucceeded(ctx, event)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "charge.refunded":
		return s.handleChargeRefunded(ctx, event)
	default:
		log.Printf("[Reconcile] Unhandled event type %s (%s), acknowledging", event.Type, event.ID)
		return false, nil
	}
}

func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) (bool, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return false, fmt.Errorf("decode payment intent: %w", err)
	}
	if pi.ID == "" {
		return false, errors.New("payment intent event without id")
	}

	customerID := ""
	if pi.Customer != nil {
		customerID = pi.Customer.ID
	}

	payment := &models.Payment{
		PaymentIntentID: pi.ID,
		CustomerID:      customerID,
		Status:          models.PaymentStatusSucceeded,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		ItemName:        pi.Description,
	}
	if sub, err := s.repo.FindSubscriberByCustomerID(customerID); err == nil {
		payment.SubscriberID = &sub.ID
	}

	created, err := s.repo.UpsertPayment(payment)
	if err != nil {
		return false, err
	}
	if !created {
		log.Printf("[Reconcile] Payment %s already recorded, no-op", pi.ID)
	}
	return true, nil
}

func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event) (bool, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return false, fmt.Errorf("decode invoice: %w", err)
	}

	// Only cycle renewals count here; the initial invoice of a new
	// subscription is recorded through the confirmation path.
	if inv.Subscription == nil || inv.Subscription.ID == "" ||
		inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		log.Printf("[Reconcile] Ignoring %s (%s), reason=%s", event.Type, event.ID, inv.BillingReason)
		return true, nil
	}

	customerID := customerIDOfInvoice(&inv)
	sub, err := s.repo.FindSubscriberByCustomerID(customerID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[Reconcile] No subscriber for customer %s in %s (%s), skipping", customerID, event.Type, event.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	intentID := ""
	if inv.PaymentIntent != nil {
		intentID = inv.PaymentIntent.ID
	}
	if intentID == "" {
		intentID = "invoice_" + inv.ID
	}
	planID := invoicePlanID(&inv)
	subscriptionID := inv.Subscription.ID

	payment := &models.Payment{
		SubscriberID:    &sub.ID,
		PaymentIntentID: intentID,
		CustomerID:      customerID,
		SubscriptionID:  &subscriptionID,
		Status:          models.PaymentStatusSucceeded,
		Amount:          inv.AmountPaid,
		Currency:        string(inv.Currency),
		ItemName:        recurringItemName(planID, subscriptionID),
	}
	if err := payment.SetMetadata(map[string]string{
		"plan_id":        planID,
		"invoice_id":     inv.ID,
		"billing_reason": string(inv.BillingReason),
	}); err != nil {
		return false, err
	}
	if _, err := s.repo.UpsertPayment(payment); err != nil {
		return false, err
	}

	if err := s.setStatusAndRole(ctx, sub.ID, StatusActive); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) (bool, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return false, fmt.Errorf("decode invoice: %w", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		log.Printf("[Reconcile] Ignoring %s (%s) without subscription", event.Type, event.ID)
		return true, nil
	}

	customerID := customerIDOfInvoice(&inv)
	sub, err := s.repo.FindSubscriberByCustomerID(customerID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[Reconcile] No subscriber for customer %s in %s (%s), skipping", customerID, event.Type, event.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.setStatusAndRole(ctx, sub.ID, StatusPaymentFailed); err != nil {
		return false, err
	}

	planID := invoicePlanID(&inv)
	s.notify.Dispatch(ctx, NotifyPaymentFailed, map[string]string{
		"customer_email":  sub.Email,
		"customer_id":     customerID,
		"subscription_id": inv.Subscription.ID,
		"plan_id":         planID,
		"amount":          strconv.FormatInt(inv.AmountDue, 10),
		"currency":        string(inv.Currency),
		"item_name":       recurringItemName(planID, inv.Subscription.ID),
		"event_id":        event.ID,
		"event_type":      string(event.Type),
	})
	return true, nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) (bool, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return false, fmt.Errorf("decode subscription: %w", err)
	}

	customerID := ""
	if stripeSub.Customer != nil {
		customerID = stripeSub.Customer.ID
	}
	sub, err := s.repo.FindSubscriberByCustomerID(customerID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[Reconcile] No subscriber for customer %s in %s (%s), skipping", customerID, event.Type, event.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	status, err := ParseStatus(string(stripeSub.Status))
	if err != nil {
		return false, err
	}
	if err := s.setStatusAndRole(ctx, sub.ID, status); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) (bool, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return false, fmt.Errorf("decode subscription: %w", err)
	}

	customerID := ""
	if stripeSub.Customer != nil {
		customerID = stripeSub.Customer.ID
	}
	sub, err := s.repo.FindSubscriberByCustomerID(customerID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[Reconcile] No subscriber for customer %s in %s (%s), skipping", customerID, event.Type, event.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.setStatusAndRole(ctx, sub.ID, StatusCanceled); err != nil {
		return false, err
	}

	planID := subscriptionPlanID(&stripeSub)
	s.notify.Dispatch(ctx, NotifySubscriptionCanceled, map[string]string{
		"customer_email":  sub.Email,
		"customer_id":     customerID,
		"subscription_id": stripeSub.ID,
		"plan_id":         planID,
		"item_name":       recurringItemName(planID, stripeSub.ID),
		"event_id":        event.ID,
		"event_type":      string(event.Type),
	})
	return true, nil
}

func (s *Service) handleChargeRefunded(ctx context.Context, event *stripe.Event) (bool, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return false, fmt.Errorf("decode charge: %w", err)
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		log.Printf("[Reconcile] Ignoring %s (%s) without payment intent", event.Type, event.ID)
		return true, nil
	}
	intentID := charge.PaymentIntent.ID

	if _, err := s.repo.GetPaymentByIntentID(intentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("[Reconcile] No ledger record for refunded intent %s (%s), skipping", intentID, event.ID)
			return false, nil
		}
		return false, err
	}

	updated, err := s.repo.MarkPaymentRefunded(intentID)
	if err != nil {
		return false, err
	}
	if !updated {
		log.Printf("[Reconcile] Payment %s already refunded, no-op", intentID)
	}
	return true, nil
}

// RecordConfirmedPayment is the idempotent client-reported confirmation
// path: it resolves or creates the subscriber, writes the ledger row, and
// for subscription signups initializes the subscription state and role.
// Calling it twice with the same transaction id is a reported success with
// exactly one ledger row.
func (s *Service) RecordConfirmedPayment(ctx context.Context, in ConfirmedPayment) error {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.CustomerID == "" {
		return &ValidationError{Message: "email and customer_id are required"}
	}
	if in.PaymentIntentID == "" && in.SubscriptionID == "" {
		return &ValidationError{Message: "payment_intent_id or subscription_id is required"}
	}
	if in.Amount < 0 {
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	sub, subscriberCreated, err := s.repo.GetOrCreateSubscriberByEmail(email)
	if err != nil {
		return err
	}
	if err := s.repo.SetMeta(sub.ID, models.MetaKeyCustomerID, in.CustomerID); err != nil {
		return err
	}

	intentID := in.PaymentIntentID
	if intentID == "" {
		intentID = "sub_initial_" + in.SubscriptionID
	}

	payment := &models.Payment{
		SubscriberID:    &sub.ID,
		PaymentIntentID: intentID,
		CustomerID:      in.CustomerID,
		Status:          models.PaymentStatusSucceeded,
		Amount:          in.Amount,
		Currency:        strings.ToLower(in.Currency),
		ItemName:        in.ItemName,
	}
	if in.SubscriptionID != "" {
		subscriptionID := in.SubscriptionID
		payment.SubscriptionID = &subscriptionID
		if payment.ItemName == "" {
			payment.ItemName = recurringItemName(in.PlanID, subscriptionID)
		}
	}
	if in.PlanID != "" {
		if err := payment.SetMetadata(map[string]string{"plan_id": in.PlanID}); err != nil {
			return err
		}
	}

	created, err := s.repo.UpsertPayment(payment)
	if err != nil {
		return err
	}

	if in.SubscriptionID != "" {
		// Runs for duplicate rows too: when the webhook won the race on
		// the same intent id, or an earlier report stopped after the
		// ledger write, the retried report must still leave the
		// subscription state initialized. Every write here is idempotent.
		if err := s.repo.SetMeta(sub.ID, models.MetaKeySubscriptionID, in.SubscriptionID); err != nil {
			return err
		}
		status := StatusActive
		if in.Amount == 0 && in.PaymentIntentID == "" {
			// Zero upfront with no payment intent means a trial start.
			status = StatusTrialing
		}
		if err := s.setStatusAndRole(ctx, sub.ID, status); err != nil {
			return err
		}
	}

	if !created {
		// A webhook or a retried client call got here first. The unique
		// constraint already guarantees a single row; report success.
		log.Printf("[Record] Payment %s already recorded for %s", intentID, email)
		return nil
	}

	notifyContext := NotifySignupOnetime
	if in.SubscriptionID != "" {
		notifyContext = NotifySignupSubscription
	}
	s.notify.Dispatch(ctx, notifyContext, map[string]string{
		"customer_email":    sub.Email,
		"customer_id":       in.CustomerID,
		"subscription_id":   in.SubscriptionID,
		"plan_id":           in.PlanID,
		"payment_intent_id": intentID,
		"amount":            strconv.FormatInt(in.Amount, 10),
		"currency":          payment.Currency,
		"item_name":         payment.ItemName,
		"transaction_date":  time.Now().UTC().Format("2006-01-02 15:04:05"),
		"new_subscriber":    strconv.FormatBool(subscriberCreated),
	})
	return nil
}

// ApplySubscriptionStatus overwrites a subscriber's status with a freshly
// fetched provider status and recomputes the role. This is the on-demand
// recovery path for missed or failed webhooks.
func (s *Service) ApplySubscriptionStatus(ctx context.Context, subscriberID uint, rawStatus string) (string, bool, error) {
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return "", false, err
	}
	if err := s.setStatusAndRole(ctx, subscriberID, status); err != nil {
		return "", false, err
	}
	return status, RoleGranted(status), nil
}

// SubscriberOwnsSubscription reports whether the subscriber identified by
// email has the given subscription id on record.
func (s *Service) SubscriberOwnsSubscription(ctx context.Context, email, subscriptionID string) (*models.Subscriber, bool, error) {
	_ = ctx
	sub, err := s.repo.FindSubscriberByEmail(email)
	if err != nil {
		return nil, false, err
	}
	stored, err := s.repo.GetMeta(sub.ID, models.MetaKeySubscriptionID)
	if err != nil {
		return nil, false, err
	}
	return sub, stored != "" && stored == subscriptionID, nil
}

// SubscriberByCustomerID resolves a provider customer id to the local
// subscriber identity.
func (s *Service) SubscriberByCustomerID(ctx context.Context, customerID string) (*models.Subscriber, error) {
	_ = ctx
	return s.repo.FindSubscriberByCustomerID(customerID)
}

// PaymentByIntentID looks up a ledger row by its provider transaction id.
func (s *Service) PaymentByIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error) {
	_ = ctx
	return s.repo.GetPaymentByIntentID(paymentIntentID)
}

// SubscriberBySubscriptionID resolves a provider subscription id to the
// local subscriber identity.
func (s *Service) SubscriberBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscriber, error) {
	_ = ctx
	return s.repo.FindSubscriberBySubscriptionID(subscriptionID)
}

// NotifyCanceled dispatches the cancellation notification for a
// subscriber after an explicit cancel request succeeded.
func (s *Service) NotifyCanceled(ctx context.Context, subscriber *models.Subscriber, subscriptionID string) {
	s.notify.Dispatch(ctx, NotifySubscriptionCanceled, map[string]string{
		"customer_email":  subscriber.Email,
		"subscription_id": subscriptionID,
	})
}

func (s *Service) setStatusAndRole(ctx context.Context, subscriberID uint, status string) error {
	granted, err := s.repo.SetSubscriberStatus(subscriberID, status)
	if err != nil {
		return err
	}
	if err := s.roles.ApplyRole(ctx, subscriberID, granted); err != nil {
		// The local role attribute is already consistent; the external
		// system catches up on the next status write or sync.
		log.Printf("[Reconcile] Role application failed for subscriber %d: %v", subscriberID, err)
	}
	return nil
}

func customerIDOfInvoice(inv *stripe.Invoice) string {
	if inv.Customer != nil && inv.Customer.ID != "" {
		return inv.Customer.ID
	}
	return ""
}

func invoicePlanID(inv *stripe.Invoice) string {
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Price != nil {
		return inv.Lines.Data[0].Price.ID
	}
	return ""
}

func subscriptionPlanID(sub *stripe.Subscription) string {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

func recurringItemName(planID, subscriptionID string) string {
	if planID != "" {
		return "Subscription (" + planID + ")"
	}
	return "Subscription (" + subscriptionID + ")"
}
