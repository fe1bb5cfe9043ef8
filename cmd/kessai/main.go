package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/cache"
	"github.com/kessaihq/kessai/internal/pkg/checkout"
	"github.com/kessaihq/kessai/internal/pkg/config"
	"github.com/kessaihq/kessai/internal/pkg/database"
	"github.com/kessaihq/kessai/internal/pkg/entitlements"
	"github.com/kessaihq/kessai/internal/pkg/env"
	"github.com/kessaihq/kessai/internal/pkg/jobqueue"
	"github.com/kessaihq/kessai/internal/pkg/mail"
	"github.com/kessaihq/kessai/internal/pkg/notify"
	"github.com/kessaihq/kessai/internal/pkg/router"
	"github.com/kessaihq/kessai/internal/pkg/stripeapi"
)

func main() {
	app, queue := NewApplication()

	// Shut the queue down cleanly so in-flight mails finish.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Print("Shutting down...")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Printf("Server stopped: %v", err)
	}
	queue.Stop()
}

func NewApplication() (*fiber.App, *jobqueue.Queue) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg := config.Load()

	mailer := mail.NewSMTPMailer(cfg.Mail)
	queue := jobqueue.NewQueue(2, mailer)
	queue.Start()

	notifier := notify.NewNotifier(queue, cfg.AdminNotifyEmail)
	roles := entitlements.NewCacheApplier(cfg.SubscriberRole)

	svc := billing.NewServiceFromDB(database.GetDB()).
		WithRoleApplier(roles).
		WithDispatcher(notifier)

	provider := stripeapi.New(cfg)
	orch := checkout.NewOrchestrator(provider, cfg)

	app := fiber.New(fiber.Config{
		AppName:   "kessai",
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), monitor.New())

	router.NewHttpRouter(cfg, svc, orch, provider, queue).InstallRouter(app)

	return app, queue
}
