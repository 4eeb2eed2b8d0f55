package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/chatserver/internal/auth"
)

// RequireAuth validates the bearer token and stores the caller's
// identity in the request locals.
func RequireAuth(tokens *auth.TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or malformed authorization header",
			})
		}
		claims, err := tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}
		c.Locals("userID", claims.Subject)
		c.Locals("userEmail", claims.Email)
		return c.Next()
	}
}

// UserID reads the authenticated caller's id set by RequireAuth.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// UserEmail reads the authenticated caller's email set by RequireAuth.
func UserEmail(c *fiber.Ctx) string {
	email, _ := c.Locals("userEmail").(string)
	return email
}
