package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/mediator"
	"github.com/eva-sean/oye-proxy/internal/persistence"
)

// ErrorHandler is the fallback Fiber error handler for panics and errors
// that individual handlers didn't already turn into a status code.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		switch {
		case errors.As(err, new(*fiber.Error)):
			code = err.(*fiber.Error).Code
		case errors.Is(err, persistence.ErrNotFound):
			code = fiber.StatusNotFound
		case errors.Is(err, mediator.ErrChargerNotConnected):
			code = fiber.StatusServiceUnavailable
		case errors.Is(err, mediator.ErrDuplicateSession):
			code = fiber.StatusConflict
		}

		if code == fiber.StatusInternalServerError {
			log.Error("Internal Server Error", zap.Error(err), zap.String("path", c.Path()))
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
