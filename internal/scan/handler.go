package scan

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/schoolgate/schoolgate/internal/nfc"
	"github.com/schoolgate/schoolgate/internal/validation"
)

// Handler exposes stations hosted by the API process.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a Handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type tapRequest struct {
	Payload string `json:"payload" validate:"required"`
}

func (h *Handler) station(c *fiber.Ctx) (*Station, error) {
	st, err := h.engine.Station(c.Params("stationId"))
	if err != nil {
		return nil, fiber.NewError(http.StatusNotFound, "unknown station")
	}
	return st, nil
}

// StationKeyHeader carries a kiosk's station key on tap ingestion.
const StationKeyHeader = "X-Station-Key"

// Authenticate guards tap ingestion. A request carrying StationKeyHeader must
// match the station's configured key; any other request goes through
// fallback, normally the operator JWT middleware.
func (h *Handler) Authenticate(fallback fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(StationKeyHeader)
		if key == "" {
			return fallback(c)
		}
		st, err := h.engine.Station(c.Params("stationId"))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid station key")
		}
		want := st.Definition().Key
		if want == "" || subtle.ConstantTimeCompare([]byte(key), []byte(want)) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "invalid station key")
		}
		c.Locals("station_id", st.ID())
		return c.Next()
	}
}

// Tap captures a payload relayed by a kiosk. Processing is asynchronous;
// the outcome shows up in the station status.
func (h *Handler) Tap(c *fiber.Ctx) error {
	st, err := h.station(c)
	if err != nil {
		return err
	}
	var req tapRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	switch err := st.Tap(nfc.RawTag(req.Payload)); {
	case errors.Is(err, ErrNotListening):
		return fiber.NewError(http.StatusConflict, "station is not listening")
	case errors.Is(err, ErrBusy):
		return fiber.NewError(http.StatusServiceUnavailable, "station is busy")
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, "internal server error")
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "captured", "stationId": st.ID()})
}

// List reports every station.
func (h *Handler) List(c *fiber.Ctx) error {
	out := make([]Status, 0)
	for _, st := range h.engine.Stations() {
		status, err := st.Status(c.UserContext())
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "queue unavailable")
		}
		out = append(out, status)
	}
	return c.JSON(fiber.Map{"stations": out})
}

// Status reports one station.
func (h *Handler) Status(c *fiber.Ctx) error {
	st, err := h.station(c)
	if err != nil {
		return err
	}
	return h.writeStatus(c, st)
}

// Start arms a station for HTTP-relayed taps.
func (h *Handler) Start(c *fiber.Ctx) error {
	st, err := h.station(c)
	if err != nil {
		return err
	}
	st.Start(nil)
	return h.writeStatus(c, st)
}

// Stop disarms a station.
func (h *Handler) Stop(c *fiber.Ctx) error {
	st, err := h.station(c)
	if err != nil {
		return err
	}
	st.Stop()
	return h.writeStatus(c, st)
}

// Sync drains the station's offline queue immediately.
func (h *Handler) Sync(c *fiber.Ctx) error {
	st, err := h.station(c)
	if err != nil {
		return err
	}
	synced, err := st.Drain(c.UserContext())
	if err != nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"synced": synced, "error": "attendance storage unavailable"})
	}
	return c.JSON(fiber.Map{"synced": synced})
}

func (h *Handler) writeStatus(c *fiber.Ctx, st *Station) error {
	status, err := st.Status(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "queue unavailable")
	}
	return c.JSON(status)
}
