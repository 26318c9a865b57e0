package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/schoolgate/schoolgate/internal/auth"
)

// RegisterAuthRoutes wires the kiosk login endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter, jwtmw fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/nfc-login", rateLimiter, h.NFCLogin)
	group.Post("/nfc-pin-status", rateLimiter, h.PinStatus)
	group.Post("/nfc-pin", jwtmw, h.SetPIN)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", h.Logout)
}
