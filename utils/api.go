package utils

import (
	fiber "github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

// MakeHTTPHandleFunc binds a store-aware handler to a fiber route. Errors
// returned by the handler are rendered through the response envelope.
func MakeHTTPHandleFunc(handler func(c *fiber.Ctx, store database.Storage) error, store database.Storage) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if err := handler(c, store); err != nil {
			return response.FromError(c, err)
		}
		return nil
	}
}
