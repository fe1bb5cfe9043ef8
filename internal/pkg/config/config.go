package config

import (
	"strings"
	"time"

	"github.com/kessaihq/kessai/internal/pkg/env"
)

const (
	ModeTest = "test"
	ModeLive = "live"
)

// MailConfig holds the SMTP delivery settings for notifications.
type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// Config carries every setting the payment core needs. It is built once at
// startup and injected into components; nothing in the core reads the
// environment directly.
type Config struct {
	Mode string

	TestSecretKey      string
	LiveSecretKey      string
	TestPublishableKey string
	LivePublishableKey string
	TestWebhookSecret  string
	LiveWebhookSecret  string

	// WebhookTolerance bounds the accepted age of a signed webhook payload.
	WebhookTolerance time.Duration
	// WebhookTimeout bounds the handling of one verified webhook delivery.
	WebhookTimeout time.Duration
	// ProviderTimeout bounds every outbound Stripe API call.
	ProviderTimeout time.Duration

	// SubscriberRole is the access-control role granted while a
	// subscription is active or trialing.
	SubscriberRole string

	// AdminToken protects the admin endpoints (cancel/sync/refund).
	AdminToken string

	AdminNotifyEmail  string
	AllowedCurrencies []string

	Mail MailConfig
}

// Load builds a Config from the process environment.
func Load() *Config {
	mode := strings.ToLower(strings.TrimSpace(env.GetEnv("STRIPE_MODE", ModeTest)))
	if mode != ModeLive {
		mode = ModeTest
	}

	currencies := []string{}
	for _, c := range strings.Split(env.GetEnv("ALLOWED_CURRENCIES", "jpy,usd"), ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			currencies = append(currencies, c)
		}
	}

	return &Config{
		Mode:               mode,
		TestSecretKey:      strings.TrimSpace(env.GetEnv("STRIPE_TEST_SECRET_KEY", "")),
		LiveSecretKey:      strings.TrimSpace(env.GetEnv("STRIPE_LIVE_SECRET_KEY", "")),
		TestPublishableKey: strings.TrimSpace(env.GetEnv("STRIPE_TEST_PUBLISHABLE_KEY", "")),
		LivePublishableKey: strings.TrimSpace(env.GetEnv("STRIPE_LIVE_PUBLISHABLE_KEY", "")),
		TestWebhookSecret:  strings.TrimSpace(env.GetEnv("STRIPE_TEST_WEBHOOK_SECRET", "")),
		LiveWebhookSecret:  strings.TrimSpace(env.GetEnv("STRIPE_LIVE_WEBHOOK_SECRET", "")),
		WebhookTolerance:   durationEnv("WEBHOOK_TOLERANCE", 5*time.Minute),
		WebhookTimeout:     durationEnv("WEBHOOK_TIMEOUT", 15*time.Second),
		ProviderTimeout:    durationEnv("PROVIDER_TIMEOUT", 15*time.Second),
		SubscriberRole:     strings.TrimSpace(env.GetEnv("SUBSCRIBER_ROLE", "subscriber")),
		AdminToken:         strings.TrimSpace(env.GetEnv("ADMIN_API_TOKEN", "")),
		AdminNotifyEmail:   strings.TrimSpace(env.GetEnv("ADMIN_NOTIFY_EMAIL", "")),
		AllowedCurrencies:  currencies,
		Mail: MailConfig{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     env.GetEnv("SMTP_PORT", "587"),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			Sender:   env.GetEnv("SMTP_SENDER", ""),
		},
	}
}

// IsLiveMode reports whether live credentials are selected.
func (c *Config) IsLiveMode() bool {
	return c.Mode == ModeLive
}

// SecretKey returns the API key for the configured mode.
func (c *Config) SecretKey() string {
	if c.IsLiveMode() {
		return c.LiveSecretKey
	}
	return c.TestSecretKey
}

// PublishableKey returns the client-side key for the configured mode.
func (c *Config) PublishableKey() string {
	if c.IsLiveMode() {
		return c.LivePublishableKey
	}
	return c.TestPublishableKey
}

// DefaultCurrency returns the fallback currency applied when a client
// report carries a code outside the whitelist.
func (c *Config) DefaultCurrency() string {
	if len(c.AllowedCurrencies) > 0 {
		return c.AllowedCurrencies[0]
	}
	return "jpy"
}

// CurrencyAllowed reports whether a lowercase ISO currency code is accepted.
func (c *Config) CurrencyAllowed(code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, a := range c.AllowedCurrencies {
		if a == code {
			return true
		}
	}
	return false
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
