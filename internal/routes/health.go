package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds a readiness endpoint covering storage, cache and
// the offline queues.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		components := fiber.Map{"postgres": "disabled", "redis": "disabled"}
		healthy := true
		if d.DB != nil {
			components["postgres"] = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				components["postgres"] = err.Error()
				healthy = false
			}
		}
		if d.Cache != nil {
			components["redis"] = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				components["redis"] = err.Error()
				healthy = false
			}
		}

		queued := 0
		if d.Engine != nil {
			for _, st := range d.Engine.Stations() {
				status, err := st.Status(ctx)
				if err != nil {
					components["queue"] = err.Error()
					healthy = false
					break
				}
				queued += status.QueueDepth
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    components,
			"queued":    queued,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
