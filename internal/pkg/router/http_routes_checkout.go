package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/kessaihq/kessai/app/controllers"
	"github.com/kessaihq/kessai/internal/pkg/env"
)

func (h *HttpRouter) registerCheckoutRoutes(app *fiber.App) {
	storage := newRateLimitStorage()

	// Checkout endpoints face the open internet; rate limit them per
	// client so a misbehaving form cannot hammer the provider API.
	rateLimit := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	})

	// The browser fetches /checkout/config first; that GET issues the
	// token the subsequent POSTs must echo back.
	csrfProtect := csrf.New(csrf.Config{
		KeyLookup:      "header:X-Csrf-Token",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Storage:        storage,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid_csrf_token", "message": "Missing or invalid CSRF token"})
		},
	})

	group := app.Group("/checkout", cors.New(), rateLimit, csrfProtect)
	group.Get("/config", controllers.HandleCheckoutConfig)
	group.Post("/onetime", controllers.HandleCheckoutOnetime)
	group.Post("/subscription", controllers.HandleCheckoutSubscription)
	group.Post("/record", controllers.HandleCheckoutRecord)

	app.Post("/subscription/cancel", cors.New(), rateLimit, csrfProtect, controllers.HandleSubscriptionCancel)
}
