package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"panelboot/metrics"
	"panelboot/middleware"
	"panelboot/utils"
)

// New creates the Fiber application served once bootstrap completes. The
// secret getter feeds the JWT middleware because the application key rotates
// during bootstrap.
func New(ready *ReadyState, secret func() []byte) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: false,
		BodyLimit:             512 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			} else if code < 500 {
				message = err.Error()
			} else {
				utils.LogError("HTTP_ERROR", err,
					"method", c.Method(),
					"path", c.Path(),
					"ip", c.IP(),
				)
			}

			return c.Status(code).JSON(fiber.Map{"error": message})
		},
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			utils.LogError("PANIC RECOVERED", fmt.Errorf("%v", e),
				"method", c.Method(),
				"path", c.Path(),
				"ip", c.IP(),
			)
		},
	}))

	// Request ID middleware for error correlation
	app.Use(func(c *fiber.Ctx) error {
		requestID := uuid.New().String()
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	})

	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${locals:request_id} ${status} - ${method} ${path} - ${ip} - ${latency}\n",
	}))

	app.Use(metrics.PrometheusMiddleware())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Get("/metrics", func(c *fiber.Ctx) error {
		req, err := http.NewRequestWithContext(c.Context(), c.Method(), c.OriginalURL(), nil)
		if err != nil {
			return fiber.ErrInternalServerError
		}
		promhttp.Handler().ServeHTTP(newFiberResponseWriter(c), req)
		return nil
	})

	api := app.Group("/api/v1")

	// Live endpoint - just checks if the process is running
	api.Get("/health/live", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "live",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    ready.Uptime().String(),
		})
	})

	// Ready endpoint - 503 until every bootstrap step completed
	api.Get("/health/ready", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		health := fiber.Map{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    ready.Uptime().String(),
		}

		if !ready.IsFullyReady() {
			health["status"] = "initializing"
			health["steps"] = ready.Steps()
			return c.Status(503).JSON(health)
		}

		if db := ready.GetDB(); db != nil {
			var one int
			if err := db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
				health["status"] = "unhealthy"
				health["error"] = "database check failed"
				return c.Status(503).JSON(health)
			}
		}

		if rdb := ready.GetRedis(); rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				health["status"] = "unhealthy"
				health["error"] = "redis check failed"
				return c.Status(503).JSON(health)
			}
		}

		health["status"] = "ready"
		return c.JSON(health)
	})

	// Per-step bootstrap report, guarded by the rotated application key
	api.Get("/bootstrap/status", middleware.JWTAuth(secret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"ready":     ready.IsFullyReady(),
			"steps":     ready.Steps(),
			"uptime":    ready.Uptime().String(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	return app
}
