package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/kessaihq/kessai/app/controllers"
	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/cache"
	"github.com/kessaihq/kessai/internal/pkg/checkout"
	"github.com/kessaihq/kessai/internal/pkg/config"
	"github.com/kessaihq/kessai/internal/pkg/database"
	"github.com/kessaihq/kessai/internal/pkg/env"
	"github.com/kessaihq/kessai/internal/pkg/jobqueue"
)

type HttpRouter struct {
	cfg   *config.Config
	svc   *billing.Service
	orch  *checkout.Orchestrator
	api   controllers.SubscriptionAPI
	queue *jobqueue.Queue
}

func NewHttpRouter(cfg *config.Config, svc *billing.Service, orch *checkout.Orchestrator, api controllers.SubscriptionAPI, queue *jobqueue.Queue) *HttpRouter {
	return &HttpRouter{cfg: cfg, svc: svc, orch: orch, api: api, queue: queue}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	controllers.InitializeWebhookController(h.svc, h.cfg)
	controllers.InitializeCheckoutController(h.orch, h.api, h.cfg)
	controllers.InitializeAdminController(h.queue)

	h.registerPublicRoutes(app)
	h.registerCheckoutRoutes(app)
	h.registerAdminRoutes(app)
}

func (h *HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		status := "ok"
		code := fiber.StatusOK

		dbState := "up"
		if db := database.GetDB(); db == nil {
			dbState = "down"
		} else if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Context()) != nil {
			dbState = "down"
		}
		cacheState := "up"
		if err := cache.GetClient().Ping(c.Context()).Err(); err != nil {
			cacheState = "down"
		}
		if dbState != "up" || cacheState != "up" {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"mode":   h.cfg.Mode,
			"db":     dbState,
			"cache":  cacheState,
		})
	})

	// The webhook endpoint authenticates with the payload signature, never
	// with cookies, so it stays outside the CSRF group.
	app.Post("/webhook", controllers.HandleProviderWebhook)
}

// newRateLimitStorage builds a shared storage for the limiter on top of
// the existing Redis connection.
func newRateLimitStorage() *redis.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if hostPart, portPart, err := net.SplitHostPort(addr); err == nil {
			host = hostPart
			if v, err := strconv.Atoi(portPart); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// Database 1 keeps limiter counters apart from cache entries in DB 0.
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
