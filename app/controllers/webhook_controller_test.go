package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/require"

	"github.com/kessaihq/kessai/app/models"
	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/config"
)

const webhookTestSecret = "whsec_test_secret"

// stubRepo is an in-memory billing.Repository for handler tests.
type stubRepo struct {
	payments    map[string]*models.Payment
	subscribers map[string]*models.Subscriber
	meta        map[uint]map[string]string
	events      map[string]*models.WebhookEvent
	nextID      uint
	eventErr    error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		payments:    map[string]*models.Payment{},
		subscribers: map[string]*models.Subscriber{},
		meta:        map[uint]map[string]string{},
		events:      map[string]*models.WebhookEvent{},
	}
}

func (r *stubRepo) UpsertPayment(p *models.Payment) (bool, error) {
	if existing, ok := r.payments[p.PaymentIntentID]; ok {
		*p = *existing
		return false, nil
	}
	stored := *p
	r.payments[p.PaymentIntentID] = &stored
	return true, nil
}

func (r *stubRepo) GetPaymentByIntentID(id string) (*models.Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return p, nil
}

func (r *stubRepo) MarkPaymentRefunded(id string) (bool, error) {
	p, ok := r.payments[id]
	if !ok || p.Status == models.PaymentStatusRefunded {
		return false, nil
	}
	p.Status = models.PaymentStatusRefunded
	return true, nil
}

func (r *stubRepo) FindSubscriberByCustomerID(string) (*models.Subscriber, error) {
	return nil, billing.ErrNotFound
}

func (r *stubRepo) FindSubscriberBySubscriptionID(string) (*models.Subscriber, error) {
	return nil, billing.ErrNotFound
}

func (r *stubRepo) GetOrCreateSubscriberByEmail(email string) (*models.Subscriber, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if sub, ok := r.subscribers[email]; ok {
		return sub, false, nil
	}
	r.nextID++
	sub := &models.Subscriber{ID: r.nextID, Email: email}
	r.subscribers[email] = sub
	r.meta[sub.ID] = map[string]string{}
	return sub, true, nil
}

func (r *stubRepo) FindSubscriberByEmail(email string) (*models.Subscriber, error) {
	if sub, ok := r.subscribers[strings.ToLower(strings.TrimSpace(email))]; ok {
		return sub, nil
	}
	return nil, billing.ErrNotFound
}

func (r *stubRepo) GetMeta(id uint, key string) (string, error) {
	return r.meta[id][key], nil
}

func (r *stubRepo) SetMeta(id uint, key, value string) error {
	if r.meta[id] == nil {
		r.meta[id] = map[string]string{}
	}
	r.meta[id][key] = value
	return nil
}

func (r *stubRepo) SetSubscriberStatus(id uint, status string) (bool, error) {
	_ = r.SetMeta(id, models.MetaKeySubscriptionStatus, status)
	return billing.RoleGranted(status), nil
}

func (r *stubRepo) CreateWebhookEventIfNotExists(ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if r.eventErr != nil {
		return false, nil, r.eventErr
	}
	if stored, ok := r.events[ev.EventID]; ok {
		return false, stored, nil
	}
	r.nextID++
	ev.ID = r.nextID
	r.events[ev.EventID] = ev
	return true, ev, nil
}

func (r *stubRepo) MarkWebhookProcessed(uint, string) error { return nil }

var _ billing.Repository = (*stubRepo)(nil)

// fakeDedup is an in-memory stand-in for the Redis fast path.
type fakeDedup struct {
	marked map[string]bool
}

func newFakeDedup() *fakeDedup { return &fakeDedup{marked: map[string]bool{}} }

func (d *fakeDedup) Seen(eventID string) bool { return d.marked[eventID] }
func (d *fakeDedup) Mark(eventID string)      { d.marked[eventID] = true }

func webhookTestConfig() *config.Config {
	return &config.Config{
		Mode:              config.ModeTest,
		TestWebhookSecret: webhookTestSecret,
		WebhookTolerance:  5 * time.Minute,
		WebhookTimeout:    5 * time.Second,
		AllowedCurrencies: []string{"jpy", "usd"},
	}
}

func newWebhookApp(repo *stubRepo, dedup *fakeDedup) *fiber.App {
	InitializeWebhookController(billing.NewService(repo), webhookTestConfig())
	webhookDedup = dedup

	app := fiber.New()
	app.Post("/webhook", HandleProviderWebhook)
	return app
}

func signWebhookPayload(payload []byte, secret string, ts time.Time) string {
	signed := fmt.Sprintf("%d.%s", ts.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(t *testing.T, app *fiber.App, payload []byte) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signWebhookPayload(payload, webhookTestSecret, time.Now()))

	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func pingEvent(id string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"api_version":%q,"type":"ping","livemode":false,"data":{"object":{}}}`, id, stripe.APIVersion))
}

func TestWebhookPersistFailureAllowsRedelivery(t *testing.T) {
	repo := newStubRepo()
	dedup := newFakeDedup()
	app := newWebhookApp(repo, dedup)
	payload := pingEvent("evt_1")

	// Journal write fails: the delivery must come back as a 500 without
	// leaving a dedup mark, or the redelivery would be swallowed.
	repo.eventErr = errors.New("db down")
	status, body := postWebhook(t, app, payload)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "webhook_persist_failed", body["error"])
	assert.False(t, dedup.marked["evt_1"], "failed persist must not mark the dedup key")

	// The provider redelivers after the DB recovers; this attempt has to
	// reach the journal and get processed.
	repo.eventErr = nil
	status, body = postWebhook(t, app, payload)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.NotContains(t, body, "duplicate")
	require.Contains(t, repo.events, "evt_1")
	assert.True(t, dedup.marked["evt_1"])
}

func TestWebhookDedupFastPath(t *testing.T) {
	repo := newStubRepo()
	dedup := newFakeDedup()
	dedup.Mark("evt_2")
	app := newWebhookApp(repo, dedup)

	status, body := postWebhook(t, app, pingEvent("evt_2"))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])
	assert.Empty(t, repo.events, "fast-path duplicate must not touch the journal")
}

func TestWebhookJournalDuplicate(t *testing.T) {
	repo := newStubRepo()
	repo.events["evt_3"] = &models.WebhookEvent{ID: 7, EventID: "evt_3"}
	dedup := newFakeDedup()
	app := newWebhookApp(repo, dedup)

	// Cache lost the key but the journal still has the row.
	status, body := postWebhook(t, app, pingEvent("evt_3"))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])
	assert.True(t, dedup.marked["evt_3"], "journal hit should restore the dedup key")
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app := newWebhookApp(newStubRepo(), newFakeDedup())

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(string(pingEvent("evt_4"))))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
