package controllers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kessaihq/kessai/internal/pkg/billing"
)

func newRecordApp(repo *stubRepo) *fiber.App {
	cfg := webhookTestConfig()
	InitializeWebhookController(billing.NewService(repo), cfg)
	InitializeCheckoutController(nil, nil, cfg)

	app := fiber.New()
	app.Post("/checkout/record", HandleCheckoutRecord)
	return app
}

func postRecord(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/checkout/record", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestCheckoutRecord_CurrencyFallback(t *testing.T) {
	repo := newStubRepo()
	app := newRecordApp(repo)

	status := postRecord(t, app, `{
		"payment_intent_id": "pi_1",
		"email": "taro@example.com",
		"customer_id": "cus_1",
		"amount": 500,
		"currency": "zzz"
	}`)
	require.Equal(t, fiber.StatusOK, status)

	p, ok := repo.payments["pi_1"]
	require.True(t, ok, "ledger row missing")
	assert.Equal(t, "jpy", p.Currency, "unlisted currency must fall back to the default")
}

func TestCheckoutRecord_AcceptedCurrencyKept(t *testing.T) {
	repo := newStubRepo()
	app := newRecordApp(repo)

	status := postRecord(t, app, `{
		"payment_intent_id": "pi_2",
		"email": "taro@example.com",
		"customer_id": "cus_1",
		"amount": 500,
		"currency": "USD"
	}`)
	require.Equal(t, fiber.StatusOK, status)

	p, ok := repo.payments["pi_2"]
	require.True(t, ok, "ledger row missing")
	assert.Equal(t, "usd", p.Currency)
}
