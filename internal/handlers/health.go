package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HealthCheck handles GET /health for load balancer and container health checks. The database
// must answer; Redis being down is reported but does not fail the check, since the
// engine keeps working without advisory locks and the cache.
func HealthCheck(db *gorm.DB, pingRedis func(context.Context) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{"database": "ok", "redis": "ok"}
		status := fiber.StatusOK

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			checks["database"] = err.Error()
			status = fiber.StatusServiceUnavailable
		}

		if pingRedis != nil {
			if err := pingRedis(ctx); err != nil {
				checks["redis"] = err.Error()
			}
		} else {
			checks["redis"] = "disabled"
		}

		overall := "ok"
		if status != fiber.StatusOK {
			overall = "unavailable"
		}
		return c.Status(status).JSON(fiber.Map{"status": overall, "checks": checks})
	}
}
