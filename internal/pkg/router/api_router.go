package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/aimanhazmi/GroupGate/app/controllers"
	"github.com/aimanhazmi/GroupGate/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())
	v1.Get("/grants/:provider/:reference", controllers.HandleGetGrant)
	v1.Get("/queue/stats", controllers.HandleQueueStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
