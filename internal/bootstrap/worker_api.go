package bootstrap

import (
	"context"
	"errors"

	"assist_worker/adapter/in/http"
	"assist_worker/config"
	"assist_worker/infra/middleware"
	"assist_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP surface over the operation dispatcher. Every request
// context derives from ctx, so cancelling ctx cancels running batches.
func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}
	return newApp(ctx, cfg, deps), cleanup, nil
}

func newApp(ctx context.Context, cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          cfg.BodyLimitKB * 1024,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.BaseContext(ctx))
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	origins := cfg.CORSOrigins
	if origins == "" || (origins == "*" && cfg.IsProduction()) {
		origins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID,X-RateLimit-Limit,Retry-After",
		MaxAge:        86400,
	}))

	http.NewHealthHandler(deps.Components(),
		http.HealthCheck{Name: "inference", Check: func(context.Context) error {
			if deps.Inference == nil {
				return errors.New("not configured")
			}
			return nil
		}},
		http.HealthCheck{Name: "cad_root", Check: dirCheck(cfg.CADRootDir)},
		http.HealthCheck{Name: "cad_export", Check: dirCheck(cfg.CADExportDir)},
	).Register(app)

	api := app.Group("/api/v1")
	if cfg.JWTSecret != "" {
		api.Use(middleware.JWTAuth(cfg.JWTSecret))
	} else if cfg.IsProduction() {
		logger.Warn("JWT_SECRET is empty; /api/v1 is unauthenticated")
	}
	if cfg.APIRatePerMin > 0 {
		api.Use(middleware.NewRateLimiter(cfg.APIRatePerMin).Handler())
	}
	api.Use(middleware.RequireJSON())
	api.Use(middleware.MaxBodySize(cfg.BodyLimitKB * 1024))

	http.NewOperationHandler(deps.Dispatcher).Register(api)
	http.NewMetricsHandler(deps.Latency, deps.Pipeline).Register(api)

	return app
}
