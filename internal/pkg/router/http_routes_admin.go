package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kessaihq/kessai/app/controllers"
	"github.com/kessaihq/kessai/internal/pkg/middleware"
)

func (h *HttpRouter) registerAdminRoutes(app *fiber.App) {
	group := app.Group("/admin", middleware.AdminAuthMiddleware(h.cfg.AdminToken))
	group.Get("/stats", controllers.HandleAdminStats)
	group.Post("/subscriptions/cancel", controllers.HandleAdminCancelSubscription)
	group.Post("/subscriptions/sync", controllers.HandleAdminSyncSubscription)
	group.Post("/payments/refund", controllers.HandleAdminRefundPayment)
}
