package router

import (
	"github.com/consultly/consultly/app/controllers"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", controllers.HandleHealth)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
