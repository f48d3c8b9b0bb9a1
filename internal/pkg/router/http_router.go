package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"

	"github.com/aimanhazmi/GroupGate/app/controllers"
	"github.com/aimanhazmi/GroupGate/internal/pkg/env"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Webhook routes are rate limited against redis so limits hold across
	// replicas. Providers retry politely; anything hammering these routes
	// is not a provider.
	webhooks := app.Group("/webhook", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))
	webhooks.Post("/stripe", controllers.HandleStripeWebhook)
	webhooks.Post("/toyyibpay/callback", controllers.HandleToyyibPayCallback)
	webhooks.Post("/toyyibpay/success", controllers.HandleToyyibPaySuccess)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
}

func newLimiterStorage() *redisstorage.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host: env.GetEnv("CACHE_HOST", "localhost"),
		Port: port,
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
