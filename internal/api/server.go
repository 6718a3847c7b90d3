// Package api exposes the HTTP surface of the relay service: the websocket
// upgrade endpoint plus health and observability routes.
package api

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/relay-service/internal/coordinator"
	"github.com/fathima-sithara/relay-service/internal/ws"
)

// NewServer wires the fiber app. The caller owns Listen and Shutdown.
func NewServer(coord *coordinator.Coordinator, gateway *ws.Gateway) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	v1 := app.Group("/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(coord.Stats())
	})

	v1.Get("/rooms", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"rooms": coord.Rooms().AllStats()})
	})

	v1.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(gateway.Handler()))

	return app
}
