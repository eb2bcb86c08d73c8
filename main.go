package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"assist_worker/config"
	"assist_worker/internal/bootstrap"
	"assist_worker/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "assist-worker",
	Short:         "Batch LLM categorization, drafting and CAD conversion",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if exists (for local development)
		envErr := godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger.Init(logger.Config{
			Level:   logger.ParseLevel(cfg.LogLevel),
			Service: "assist-worker",
			Console: cfg.LogFormat == "console",
		})
		if envErr != nil {
			logger.Debug("No .env file found, using environment variables")
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAPI(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func runAPI(ctx context.Context, cfg *config.Config) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := bootstrap.NewAPI(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer cleanup()

	// Graceful shutdown with timeout. The signal also cancels ctx, which
	// ends running batches with cancelled entries.
	go func() {
		<-ctx.Done()

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}
