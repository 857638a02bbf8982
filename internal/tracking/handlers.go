package tracking

import (
	"errors"
	"strconv"
	"time"

	"drivetracker/internal/backend"

	"github.com/gofiber/fiber/v2"
)

type ThemeRequest struct {
	IsDarkMode bool `json:"isDarkMode"`
}

func RegisterRoutes(r fiber.Router, c *Controller) {
	r.Post("/start", func(ctx *fiber.Ctx) error {
		driveID, err := c.Start(ctx.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"drive_id": driveID, "status": StatusTracking})
	})

	r.Post("/stop", func(ctx *fiber.Ctx) error {
		res, err := c.Stop(ctx.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return ctx.JSON(res)
	})

	r.Post("/upload", func(ctx *fiber.Ctx) error {
		if err := c.Upload(ctx.UserContext()); err != nil {
			return toHTTPError(err)
		}
		return ctx.JSON(fiber.Map{"status": StatusIdle})
	})

	r.Get("/state", func(ctx *fiber.Ctx) error {
		snap, err := c.Snapshot(ctx.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return ctx.JSON(snap)
	})

	r.Get("/stats", func(ctx *fiber.Ctx) error {
		return ctx.JSON(c.Stats())
	})

	r.Post("/stats/refresh", func(ctx *fiber.Ctx) error {
		stats, err := c.RefreshStats(ctx.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return ctx.JSON(stats)
	})

	r.Get("/history", func(ctx *fiber.Ctx) error {
		day := time.Now()
		if raw := ctx.Query("date"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
			}
			day = parsed
		}
		sessions, err := c.History(ctx.UserContext(), day)
		if err != nil {
			return toHTTPError(err)
		}
		return ctx.JSON(fiber.Map{"sessions": sessions})
	})

	r.Post("/sessions/:id/select", func(ctx *fiber.Ctx) error {
		id, err := strconv.ParseInt(ctx.Params("id"), 10, 64)
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid session id")
		}
		n, err := c.SelectSession(ctx.UserContext(), id)
		if err != nil {
			return toHTTPError(err)
		}
		return ctx.JSON(fiber.Map{"session_id": id, "points": n})
	})

	r.Get("/track.geojson", func(ctx *fiber.Ctx) error {
		snap, err := c.Snapshot(ctx.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		ctx.Set(fiber.HeaderContentType, "application/geo+json")
		body, err := TrackFeature(snap).MarshalJSON()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return ctx.Send(body)
	})
}

// RegisterMapRoutes exposes the renderer theme.
func RegisterMapRoutes(r fiber.Router, c *Controller) {
	r.Put("/theme", func(ctx *fiber.Ctx) error {
		var req ThemeRequest
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if err := c.SetDarkMode(req.IsDarkMode); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return ctx.JSON(req)
	})
}

func toHTTPError(err error) error {
	var te *backend.TransportError
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrDriveTooShort):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrUploadInProgress), errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrUnauthenticated):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.As(err, &te):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
