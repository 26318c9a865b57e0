package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/schoolgate/schoolgate/internal/scan"
)

// RegisterStationRoutes wires the hosted station endpoints. Taps are accepted
// from kiosks holding the station key or from signed-in operators;
// idempotency guards them against kiosk retries.
func RegisterStationRoutes(r fiber.Router, h *scan.Handler, jwtmw, idempotency fiber.Handler) {
	group := r.Group("/stations")
	group.Post("/:stationId/taps", h.Authenticate(jwtmw), idempotency, h.Tap)

	// operator controls
	group.Get("", jwtmw, h.List)
	group.Get("/:stationId", jwtmw, h.Status)
	group.Post("/:stationId/start", jwtmw, h.Start)
	group.Post("/:stationId/stop", jwtmw, h.Stop)
	group.Post("/:stationId/sync", jwtmw, h.Sync)
}
