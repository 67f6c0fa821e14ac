package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// TokenHeader carries the shared ingest token
const TokenHeader = "X-Ingest-Token"

// RequireToken guards admin routes with the shared INGEST_TOKEN. The token
// may also be passed as the ingest_token query parameter. With no token
// configured the routes are disabled.
func RequireToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return jsonError(c, fiber.StatusServiceUnavailable, "ingest token is not configured")
		}

		given := c.Get(TokenHeader)
		if given == "" {
			given = c.Query("ingest_token")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			return jsonError(c, fiber.StatusUnauthorized, "invalid ingest token")
		}

		return c.Next()
	}
}

func jsonError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
