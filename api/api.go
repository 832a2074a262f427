package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/coursemarket/utils/logging"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

type APIServer struct {
	app           *fiber.App
	listenAddress string
}

func NewAPIServer(listenAddress string) *APIServer {
	return &APIServer{
		app: fiber.New(fiber.Config{
			AppName:      "coursemarket",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			// Handlers return typed errors; unmatched routes and panics land here
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				if e, ok := err.(*fiber.Error); ok {
					return response.Error(c, e.Code, e.Message, "HTTP_ERROR")
				}
				return response.FromError(c, err)
			},
		}),
		listenAddress: listenAddress,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

// Run serves until ctx is canceled, then drains in-flight requests
func (s *APIServer) Run(ctx context.Context) error {
	logging.Info().Str("address", s.listenAddress).Msg("Starting API Server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.listenAddress)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Info().Msg("Shutting down API Server")
		return s.app.ShutdownWithTimeout(15 * time.Second)
	}
}
