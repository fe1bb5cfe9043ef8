package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/cache"
	"github.com/kessaihq/kessai/internal/pkg/config"
	"github.com/kessaihq/kessai/internal/pkg/metrics/counter"
)

// dedupStore is the fast-path duplicate check in front of the event
// journal. The journal's unique event id constraint stays the authority;
// this only spares redeliveries a DB round trip.
type dedupStore interface {
	Seen(eventID string) bool
	Mark(eventID string)
}

type cacheDedup struct{}

func (cacheDedup) Seen(eventID string) bool {
	_, err := cache.Get("webhook:event:" + eventID)
	return err == nil
}

func (cacheDedup) Mark(eventID string) {
	if err := cache.Set("webhook:event:"+eventID, "1", time.Hour); err != nil {
		log.Warnf("[Webhook] Failed to cache dedup key for %s: %v", eventID, err)
	}
}

var (
	billingService   *billing.Service
	webhookSecrets   billing.Secrets
	webhookTolerance time.Duration
	webhookTimeout   time.Duration
	webhookDedup     dedupStore = cacheDedup{}
)

// InitializeWebhookController wires the webhook handler dependencies.
func InitializeWebhookController(svc *billing.Service, cfg *config.Config) {
	billingService = svc
	webhookSecrets = billing.Secrets{
		Test: cfg.TestWebhookSecret,
		Live: cfg.LiveWebhookSecret,
	}
	webhookTolerance = cfg.WebhookTolerance
	webhookTimeout = cfg.WebhookTimeout
}

// HandleProviderWebhook receives signed provider events. Signature
// failures are rejected so the provider retries; interpretation failures
// are acknowledged with processed=false and kept for operator review.
func HandleProviderWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	event, err := billing.VerifyEvent(rawBody, signature, webhookSecrets, webhookTolerance)
	if err != nil {
		log.Warnf("[Webhook] Rejected delivery: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook verification failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	_ = counter.AddEventReceived(string(event.Type))

	if webhookDedup.Seen(event.ID) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}

	created, stored, err := billingService.RecordWebhookEvent(ctx, event, rawBody)
	if err != nil {
		// No dedup mark on this path: the 500 makes the provider
		// redeliver, and the retry has to reach the journal again.
		log.Errorf("[Webhook] Failed to persist event %s: %v", event.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "Could not store event")
	}
	// The journal row exists now; redeliveries may short-circuit.
	webhookDedup.Mark(event.ID)
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}

	processed, perr := billingService.ProcessEvent(ctx, event)
	if merr := billingService.MarkWebhookProcessed(ctx, stored.ID, perr); merr != nil {
		log.Errorf("[Webhook] Failed to mark event %s processed: %v", event.ID, merr)
	}
	if perr != nil {
		_ = counter.AddEventFailed(string(event.Type))
		log.Errorf("[Webhook] Event %s (%s) failed: %v", event.ID, event.Type, perr)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "processed": false})
	}

	_ = counter.AddEventProcessed(string(event.Type))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "processed": processed})
}
