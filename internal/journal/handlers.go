package journal

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/:driveID", func(c *fiber.Ctx) error {
		entries, err := svc.List(c.UserContext(), c.Params("driveID"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(entries)
	})
}
