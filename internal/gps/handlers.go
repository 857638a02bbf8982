package gps

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

type FixRequest struct {
	Lat       *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng       *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Timestamp int64    `json:"timestamp" validate:"gte=0"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading" validate:"omitempty,gte=0,lt=360"`
}

type ErrorRequest struct {
	Code    string `json:"code" validate:"required,oneof=permission_denied unavailable timeout"`
	Message string `json:"message"`
}

type PermissionRequest struct {
	Granted bool `json:"granted"`
}

var validate = validator.New()

// RegisterRoutes exposes the feed used by an external receiver.
func RegisterRoutes(r fiber.Router, feed *FeedSource) {
	r.Post("/fix", func(c *fiber.Ctx) error {
		var req FixRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		feed.Push(Position{
			Lat:       *req.Lat,
			Lng:       *req.Lng,
			Timestamp: req.Timestamp,
			Speed:     req.Speed,
			Heading:   req.Heading,
		})
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/error", func(c *fiber.Ctx) error {
		var req ErrorRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		feed.PushError(errorForCode(req.Code, req.Message))
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Put("/permission", func(c *fiber.Ctx) error {
		var req PermissionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		feed.SetPermission(req.Granted)
		return c.JSON(fiber.Map{"granted": req.Granted})
	})
}

func errorForCode(code, message string) error {
	var base error
	switch code {
	case "permission_denied":
		base = ErrPermissionDenied
	case "timeout":
		base = ErrTimeout
	default:
		base = ErrUnavailable
	}
	if message == "" {
		return base
	}
	return errors.Join(base, errors.New(message))
}
