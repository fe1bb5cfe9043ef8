package billing

import "context"

// ConfirmedPayment is the normalized input for the idempotent "record
// confirmed payment" path, reported by the browser client after provider
// side confirmation succeeded.
type ConfirmedPayment struct {
	PaymentIntentID string
	SubscriptionID  string
	Email           string
	CustomerID      string
	Amount          int64
	Currency        string
	ItemName        string
	PlanID          string
}

// RoleApplier pushes the derived role into the external access-control
// system. The local role attribute is always written first, in the same
// transaction as the status; this hook mirrors it outward.
type RoleApplier interface {
	ApplyRole(ctx context.Context, subscriberID uint, granted bool) error
}

// Dispatcher triggers outbound notifications for reconciliation outcomes.
// Implementations must be safe to call from concurrent request handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, data map[string]string)
}

// Notification contexts passed to the Dispatcher.
const (
	NotifySignupOnetime        = "signup_onetime"
	NotifySignupSubscription   = "signup_subscription"
	NotifyPaymentFailed        = "payment_failed"
	NotifySubscriptionCanceled = "subscription_canceled"
)

type noopRoles struct{}

func (noopRoles) ApplyRole(context.Context, uint, bool) error { return nil }

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, string, map[string]string) {}
