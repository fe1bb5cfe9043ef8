package billing

import (
	"errors"
	"fmt"
)

// Authenticity failures. The webhook endpoint rejects the request outright
// so the provider retries delivery.
var (
	ErrMissingSignature   = errors.New("webhook signature header is missing")
	ErrNoSecretConfigured = errors.New("no webhook secret is configured")
	ErrSignatureMismatch  = errors.New("webhook signature verification failed")
)

// ErrNotFound marks an unresolvable identity or record. Events hitting it
// are acknowledged and skipped, never partially applied.
var ErrNotFound = errors.New("record not found")

// ValidationError is a user-correctable input problem, returned inline.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProviderError wraps an upstream Stripe API failure. Code carries the
// upstream error code for support correlation; local state is unchanged.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error (%s): %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// UnexpectedStateError marks a provider response that matches no known
// status. It is logged loudly instead of being guessed at.
type UnexpectedStateError struct {
	State string
}

func (e *UnexpectedStateError) Error() string {
	return "unexpected provider state: " + e.State
}

// IsAuthenticityError reports whether err belongs to the signature/replay
// failure class.
func IsAuthenticityError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrNoSecretConfigured) ||
		errors.Is(err, ErrSignatureMismatch)
}
