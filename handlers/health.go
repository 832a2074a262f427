package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

func HandleCheckHealth(c *fiber.Ctx, store database.Storage) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := store.HealthCheck(ctx); err != nil {
		return response.ServiceUnavailable(c, "Database unavailable")
	}

	return c.JSON(fiber.Map{"status": "ok"})
}
