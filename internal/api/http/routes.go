package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/prayer-times-engine/internal/geo"
	"github.com/i474232898/prayer-times-engine/internal/location"
	"github.com/i474232898/prayer-times-engine/internal/prayer"
	"github.com/i474232898/prayer-times-engine/internal/qibla"
	"github.com/i474232898/prayer-times-engine/internal/store"
)

var validate = validator.New()

// Deps are the collaborators the routes operate on.
type Deps struct {
	Engine    *prayer.Engine
	Qibla     *qibla.Engine
	Device    *location.DeviceProvider
	History   *store.MemoryStore
	Precision uint
	Now       func() time.Time
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	v1 := app.Group("/api/v1")

	v1.Get("/prayer/times", func(c *fiber.Ctx) error {
		return c.JSON(d.Engine.Current())
	})

	v1.Get("/prayer/next", func(c *fiber.Ctx) error {
		next := d.Engine.NextPrayer(d.Now())
		return c.JSON(fiber.Map{
			"name":             next.Name,
			"title":            next.Name.Title(),
			"time":             next.Time,
			"minutesRemaining": next.MinutesRemaining,
			"countdown":        next.Countdown(),
			"tomorrow":         next.Tomorrow,
			"state":            d.Engine.State(),
			"pending":          d.Engine.Pending(),
		})
	})

	v1.Get("/prayer/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		key := req.Key
		if key == "" {
			key = prayer.HistoryKey(d.Engine.Current(), d.Precision)
		}
		snapshots, err := d.History.GetRange(key, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no prayer history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch prayer history")
		}

		return c.JSON(fiber.Map{
			"key":       key,
			"from":      req.From,
			"to":        req.To,
			"snapshots": snapshots,
		})
	})

	v1.Post("/prayer/refresh", func(c *fiber.Ctx) error {
		snap, err := d.Engine.Refresh(c.UserContext())
		return respondCycle(c, snap, err)
	})

	v1.Post("/location", func(c *fiber.Ctx) error {
		var req locationRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		fix, err := d.Device.Report(geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}, req.Accuracy)
		if err != nil {
			return mapError(err)
		}
		snap, err := d.Engine.Update(c.UserContext(), fix.Coordinate)
		return respondCycle(c, snap, err)
	})

	v1.Post("/location/denied", func(c *fiber.Ctx) error {
		d.Device.Deny()
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Get("/qibla", func(c *fiber.Ctx) error {
		view, ok := d.Qibla.View()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "qibla bearing unavailable until a location is known")
		}
		return c.JSON(view)
	})

	v1.Post("/qibla/heading", func(c *fiber.Ctx) error {
		var req headingRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := d.Qibla.SetDeviceHeading(*req.Heading); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		view, ok := d.Qibla.View()
		if !ok {
			return c.SendStatus(fiber.StatusAccepted)
		}
		return c.JSON(view)
	})

	v1.Delete("/qibla/heading", func(c *fiber.Ctx) error {
		d.Qibla.ClearHeading()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// respondCycle renders the result of an update cycle. Failures inside the
// cycle are already absorbed into a fallback snapshot.
func respondCycle(c *fiber.Ctx, snap prayer.Snapshot, err error) error {
	if errors.Is(err, prayer.ErrSuperseded) {
		return fiber.NewError(fiber.StatusConflict, "update superseded by a newer request")
	}
	if err != nil {
		return mapError(err)
	}
	return c.JSON(snap)
}

func mapError(err error) error {
	if errors.Is(err, geo.ErrInvalidCoordinate) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	Accuracy  float64  `json:"accuracy" validate:"gte=0"`
}

type headingRequest struct {
	Heading *float64 `json:"heading" validate:"required"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Key  string
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Key = c.Query("key")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
