package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/kessaihq/kessai/app/models"
	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/jobqueue"
	"github.com/kessaihq/kessai/internal/pkg/metrics/counter"
)

var adminQueue *jobqueue.Queue

// InitializeAdminController wires the admin handler dependencies.
func InitializeAdminController(queue *jobqueue.Queue) {
	adminQueue = queue
}

// HandleAdminStats reports event counters and queue depths for operators.
func HandleAdminStats(c *fiber.Ctx) error {
	events, err := counter.Snapshot()
	if err != nil {
		log.Errorf("[Admin] Failed to read event counters: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not read counters")
	}

	ctx := c.Context()
	pending, _ := adminQueue.GetQueueSize(ctx)
	processing, _ := adminQueue.GetProcessingSize(ctx)
	jobStats, _ := adminQueue.GetJobStats(ctx)

	return c.JSON(fiber.Map{
		"events": events,
		"queue": fiber.Map{
			"pending":    pending,
			"processing": processing,
			"stats":      jobStats,
		},
	})
}

// HandleAdminCancelSubscription cancels any subscription by id. An
// upstream subscription that is already gone still counts as success so
// the operator reaches the goal state either way.
func HandleAdminCancelSubscription(c *fiber.Ctx) error {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.SubscriptionID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "subscription_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := providerAPI.CancelSubscription(ctx, req.SubscriptionID); err != nil {
		return mapBillingError(c, err)
	}

	subscriber, err := billingService.SubscriberBySubscriptionID(ctx, req.SubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			// Canceled upstream without a local identity; nothing else to do.
			log.Warnf("[Admin] Canceled subscription %s with no local subscriber", req.SubscriptionID)
			return c.JSON(fiber.Map{"success": true, "status": billing.StatusCanceled})
		}
		return mapBillingError(c, err)
	}

	status, _, err := billingService.ApplySubscriptionStatus(ctx, subscriber.ID, billing.StatusCanceled)
	if err != nil {
		return mapBillingError(c, err)
	}
	billingService.NotifyCanceled(ctx, subscriber, req.SubscriptionID)

	return c.JSON(fiber.Map{"success": true, "status": status})
}

// HandleAdminSyncSubscription fetches the provider's current view of a
// subscription and overwrites the local status and role with it.
func HandleAdminSyncSubscription(c *fiber.Ctx) error {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.SubscriptionID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "subscription_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	subscriber, err := billingService.SubscriberBySubscriptionID(ctx, req.SubscriptionID)
	if err != nil {
		return mapBillingError(c, err)
	}

	sub, err := providerAPI.RetrieveSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return mapBillingError(c, err)
	}

	status, granted, err := billingService.ApplySubscriptionStatus(ctx, subscriber.ID, string(sub.Status))
	if err != nil {
		return mapBillingError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"subscriber_id": subscriber.ID,
		"status":        status,
		"role_granted":  granted,
	})
}

// HandleAdminRefundPayment issues a provider refund for a recorded
// payment. The ledger row stays untouched here; it flips to refunded when
// the provider's charge.refunded event arrives, keeping the provider the
// single source of truth for refund state.
func HandleAdminRefundPayment(c *fiber.Ctx) error {
	var req struct {
		PaymentIntentID string `json:"payment_intent_id"`
		Amount          int64  `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil || req.PaymentIntentID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "payment_intent_id is required")
	}
	if req.Amount < 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "amount must not be negative")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	payment, err := billingService.PaymentByIntentID(ctx, req.PaymentIntentID)
	if err != nil {
		return mapBillingError(c, err)
	}
	if payment.Status == models.PaymentStatusRefunded {
		return jsonError(c, fiber.StatusConflict, "already_refunded", "Payment is already refunded")
	}

	refund, err := providerAPI.CreateRefund(ctx, req.PaymentIntentID, req.Amount)
	if err != nil {
		return mapBillingError(c, err)
	}

	log.Infof("[Admin] Refund %s created for payment %s", refund.ID, req.PaymentIntentID)
	return c.JSON(fiber.Map{
		"success":   true,
		"refund_id": refund.ID,
		"status":    string(refund.Status),
	})
}
