package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Secrets holds the environment-scoped webhook signing secrets. Test and
// live webhooks are configured independently on the provider side.
type Secrets struct {
	Test string
	Live string
}

func (s Secrets) empty() bool { return s.Test == "" && s.Live == "" }

func (s Secrets) forMode(livemode bool) string {
	if livemode {
		return s.Live
	}
	return s.Test
}

// VerifyEvent authenticates a raw webhook payload against the configured
// secrets and returns the decoded event.
//
// The payload's livemode flag selects which secret must sign it: a test
// event is only accepted under the test secret and a live event only
// under the live secret. The flag is read before verification purely to
// pick the candidate secret; a tampered flag just selects a secret the
// signature cannot match. After verification the authenticated livemode
// is checked against the secret actually used.
func VerifyEvent(payload []byte, sigHeader string, secrets Secrets, tolerance time.Duration) (*stripe.Event, error) {
	if sigHeader == "" {
		return nil, ErrMissingSignature
	}
	if secrets.empty() {
		return nil, ErrNoSecretConfigured
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	var probe struct {
		Livemode bool `json:"livemode"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrSignatureMismatch)
	}

	secret := secrets.forMode(probe.Livemode)
	if secret == "" {
		return nil, fmt.Errorf("%w: no secret configured for event mode", ErrSignatureMismatch)
	}

	event, err := webhook.ConstructEventWithTolerance(payload, sigHeader, secret, tolerance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if event.Livemode != probe.Livemode {
		return nil, fmt.Errorf("%w: livemode mismatch", ErrSignatureMismatch)
	}
	return &event, nil
}
