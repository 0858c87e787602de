package router

import (
	"github.com/consultly/consultly/app/controllers"

	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")

	// The processor's webhook deliveries arrive here. No rate limiter on
	// this group: redelivery storms after an outage are expected and the
	// engine is idempotent.
	api.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
