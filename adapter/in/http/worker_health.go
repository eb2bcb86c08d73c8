package http

import (
	"context"
	"time"

	"assist_worker/pkg/metrics"
	"assist_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	components map[string]string
	checks     []HealthCheck
}

// NewHealthHandler reports the configured components on /health and runs
// checks on /ready.
func NewHealthHandler(components map[string]string, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{components: components, checks: checks}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"components": h.components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for _, hc := range h.checks {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[hc.Name] = "healthy"
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// MetricsHandler exposes in-process latency and outcome counters.
type MetricsHandler struct {
	latency  *metrics.LatencyRegistry
	pipeline *metrics.PipelineCounters
}

func NewMetricsHandler(latency *metrics.LatencyRegistry, pipeline *metrics.PipelineCounters) *MetricsHandler {
	return &MetricsHandler{latency: latency, pipeline: pipeline}
}

func (h *MetricsHandler) Register(router fiber.Router) {
	router.Get("/metrics", h.Metrics)
}

func (h *MetricsHandler) Metrics(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"inference_latency": h.latency.Snapshot(),
		"items":             h.pipeline.Snapshot(),
	})
}
