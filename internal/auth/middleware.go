package auth

import (
	"github.com/gofiber/fiber/v2"
)

const localsUser = "user"

// RequireSession rejects control requests until a user is logged in and stores
// the user in locals.
func RequireSession(store *Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := store.UserInfo(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "session missing, login again")
		}
		c.Locals(localsUser, user)
		return c.Next()
	}
}

// UserFromCtx returns the user stored by RequireSession.
func UserFromCtx(c *fiber.Ctx) (UserInfo, bool) {
	user, ok := c.Locals(localsUser).(UserInfo)
	return user, ok
}
