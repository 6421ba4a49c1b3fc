package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp mounts the gateway callbacks and the read endpoints.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	w := app.Group("/workflows")
	w.Post("/complete", handlers.CompleteWorkflow())
	w.Post("/log", handlers.LogWorkflow())
	w.Post("/enrichment/complete", handlers.CompleteEnrichment())
	w.Post("/replies/complete", handlers.CompleteReply())
	w.Get("/:id/analytics", handlers.GetWorkflowAnalytics)

	app.Get("/executions/:id", handlers.GetExecution)
	app.Get("/health", handlers.HealthCheck)

	return app
}
