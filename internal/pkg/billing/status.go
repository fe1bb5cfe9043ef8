package billing

import "strings"

// Subscription statuses tracked per subscriber. The values mirror the
// provider's wire statuses plus the local payment_failed marker written
// when a subscription invoice fails.
const (
	StatusNone              = "none"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusPaymentFailed     = "payment_failed"
	StatusCanceled          = "canceled"
	StatusUnpaid            = "unpaid"
)

var knownStatuses = map[string]struct{}{
	StatusNone:              {},
	StatusIncomplete:        {},
	StatusIncompleteExpired: {},
	StatusTrialing:          {},
	StatusActive:            {},
	StatusPastDue:           {},
	StatusPaymentFailed:     {},
	StatusCanceled:          {},
	StatusUnpaid:            {},
}

// ParseStatus normalizes a provider-reported status. Unknown values return
// an UnexpectedStateError so they are surfaced instead of guessed at.
func ParseStatus(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", &UnexpectedStateError{State: raw}
	}
	if _, ok := knownStatuses[s]; !ok {
		return "", &UnexpectedStateError{State: raw}
	}
	return s, nil
}

// RoleGranted is the pure function from subscription status to the derived
// access role: active and trialing grant it, everything else revokes it.
// It is re-applied on every status write to self-heal drift.
func RoleGranted(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusActive, StatusTrialing:
		return true
	default:
		return false
	}
}
