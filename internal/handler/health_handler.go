package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "ok",
			"service": "rollout-engine",
		})
	}
}

// ReadyzHandler pings the batch store and the poller-lock backend. Either one
// being down means batches cannot be executed safely.
func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		storeErr := sqlDB.PingContext(ctx)
		lockErr := rdb.Ping(ctx).Err()

		storeStatus := "ok"
		if storeErr != nil {
			storeStatus = "down"
		}
		lockStatus := "ok"
		if lockErr != nil {
			lockStatus = "down"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if storeErr != nil || lockErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"batchStore":  storeStatus,
				"pollerLocks": lockStatus,
			},
		})
	}
}
