package middleware

// roles.go: role-based access control.
// The service knows two roles, "admin" and "user" (see models.UserRole). Only the
// operational routes under /api/v1/admin are restricted; every match and application
// route is open to any authenticated user, and ownership checks happen in the engine.

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/match-reservations/internal/models"
)

// RequireRole returns a middleware handler that lets a request through only when the
// caller's role is one of roles. Anything else gets 403 Forbidden.
//
// roles is variadic, so a route group can accept several roles in one call:
//
//	admin := api.Group("/admin", middleware.RequireRole(models.UserRoleAdmin))
//
// RequireRole must run AFTER Auth. Auth is what resolves the caller and stores their
// role under LocalUserRole in c.Locals; on its own this middleware has nothing to check.
func RequireRole(roles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// c.Locals returns an interface{}; the type assertion yields ok == false when
		// Auth never ran or stored something other than a string.
		userRole, ok := c.Locals(LocalUserRole).(string)
		if !ok || userRole == "" {
			// 403 rather than 401: the caller may well be authenticated, we just
			// cannot tell what they are allowed to do.
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
			})
		}

		// Locals holds the plain string, so compare against each role's string form
		// and hand over to the next handler on the first match.
		for _, role := range roles {
			if userRole == string(role) {
				return c.Next()
			}
		}

		// Known caller, wrong role: authenticated but not authorized.
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient permissions",
		})
	}
}
