package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type SessionRequest struct {
	AccessToken string   `json:"access_token"`
	User        UserInfo `json:"user"`
}

func RegisterRoutes(r fiber.Router, store *Store) {
	r.Put("/session", func(c *fiber.Ctx) error {
		var req SessionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if req.AccessToken == "" {
			req.AccessToken = bearerFromHeader(c.Get("Authorization"))
		}
		if req.AccessToken == "" {
			return fiber.NewError(fiber.StatusBadRequest, "access_token required")
		}
		if err := store.Save(c.Context(), req.AccessToken, req.User); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": req.User})
	})

	r.Get("/session", func(c *fiber.Ctx) error {
		user, err := store.UserInfo(c.Context())
		if errors.Is(err, ErrNoSession) {
			return c.JSON(fiber.Map{"authenticated": false})
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		_, tokenErr := store.AccessToken(c.Context())
		return c.JSON(fiber.Map{"authenticated": tokenErr == nil, "user": user})
	})

	r.Delete("/session", func(c *fiber.Ctx) error {
		if err := store.Clear(c.Context()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
