package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	config "github.com/eva-sean/oye-proxy/internal/staticconfig"
)

// OperatorAuth authenticates REST control-surface requests (spec §6's
// "inject"/"setPersistentLimit"/etc.) against a bearer token. The token
// is accepted if it's a valid HS256 JWT signed with cfg.JWTSecret, or
// falls back to a constant-time bcrypt comparison against cfg.TokenHash
// for callers (CLI tooling) that carry a static token
// instead of a dashboard-issued one.
func OperatorAuth(cfg config.OperatorConfig, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization header format"})
		}
		token := parts[1]

		if cfg.JWTSecret != "" {
			if _, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fiber.ErrUnauthorized
				}
				return []byte(cfg.JWTSecret), nil
			}); err == nil {
				return c.Next()
			}
		}

		if cfg.TokenHash != "" {
			if err := bcrypt.CompareHashAndPassword([]byte(cfg.TokenHash), []byte(token)); err == nil {
				return c.Next()
			}
		}

		log.Warn("rejecting operator request with invalid bearer token", zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
	}
}
