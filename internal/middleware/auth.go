package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/schoolgate/schoolgate/internal/session"
)

// AccessTokenParser verifies access tokens.
type AccessTokenParser interface {
	ParseAccess(token string) (*session.Claims, error)
}

// JWTAuth validates the bearer access token and exposes the caller as the
// user_id, email and role locals.
func JWTAuth(tokens AccessTokenParser) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.ParseAccess(strings.TrimSpace(authz[len("bearer "):]))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", claims.Subject)
		c.Locals("email", claims.Email)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}
