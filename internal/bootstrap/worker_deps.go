package bootstrap

import (
	"context"
	"fmt"
	"os"

	"assist_worker/adapter/out/provider/cad"
	"assist_worker/adapter/out/provider/gmail"
	"assist_worker/adapter/out/provider/mailbox"
	"assist_worker/config"
	"assist_worker/core/agent/llm"
	"assist_worker/core/port/out"
	"assist_worker/core/service/operation"
	"assist_worker/pkg/apperr"
	"assist_worker/pkg/httputil"
	"assist_worker/pkg/logger"
	"assist_worker/pkg/metrics"
	"assist_worker/pkg/resilience"

	"github.com/rs/zerolog"
)

type Dependencies struct {
	Config *config.Config

	// Collaborators; nil when not configured
	Inference   out.InferenceService
	EmailSource out.ItemSource
	CADSource   out.ItemSource
	Exporter    out.CADExporter

	Dispatcher *operation.Dispatcher

	Latency  *metrics.LatencyRegistry
	Pipeline *metrics.PipelineCounters
}

// NewDependencies wires the collaborators named by cfg. A collaborator that
// cannot be built is left nil with a warning; the dispatcher then rejects the
// operations that need it.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	log := logger.Component("bootstrap")
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	deps := &Dependencies{
		Config:   cfg,
		Latency:  metrics.NewLatencyRegistry(1000),
		Pipeline: metrics.NewPipelineCounters(),
	}

	inference, closeInference, err := newInference(ctx, cfg, deps.Latency, log)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.LLMProvider).Msg("inference service unavailable")
	} else {
		deps.Inference = inference
		cleanups = append(cleanups, closeInference)
	}

	if src, err := newEmailSource(ctx, cfg); err != nil {
		log.Warn().Err(err).Str("source", cfg.EmailSource).Msg("email source unavailable")
	} else {
		deps.EmailSource = src
	}

	if src, err := cad.NewSource(cfg.CADRootDir, cfg.CADMaxFileBytes(), logger.Default().Zerolog()); err != nil {
		log.Warn().Err(err).Msg("CAD source unavailable")
	} else {
		deps.CADSource = src
	}

	if exp, err := cad.NewManifestExporter(cfg.CADExportDir, logger.Default().Zerolog()); err != nil {
		log.Warn().Err(err).Msg("CAD exporter unavailable")
	} else {
		deps.Exporter = exp
	}

	profiles, err := operation.NewProfileTable(cfg.Profiles())
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Dispatcher, err = operation.NewDispatcher(Settings(cfg), profiles, operation.Dependencies{
		EmailSource: deps.EmailSource,
		CADSource:   deps.CADSource,
		Inference:   deps.Inference,
		Exporter:    deps.Exporter,
		Observer:    deps.Pipeline,
		Logger:      logger.Default().Zerolog(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	log.Info().
		Str("provider", componentName(deps.Inference)).
		Str("email_source", componentName(deps.EmailSource)).
		Str("cad_source", componentName(deps.CADSource)).
		Msg("dependencies ready")

	return deps, cleanup, nil
}

// Settings maps configuration onto the dispatcher limits.
func Settings(cfg *config.Config) operation.Settings {
	return operation.Settings{
		Concurrency:         cfg.BatchConcurrency,
		MaxBatchSize:        cfg.BatchMaxItems,
		BatchTimeout:        cfg.BatchTimeout(),
		MaxContentChars:     cfg.ContentMaxChars,
		ResponseMaxChars:    cfg.ResponseMaxChars,
		Categories:          cfg.Categories,
		FallbackCategory:    cfg.FallbackCategory,
		DefaultTone:         cfg.DefaultTone,
		DefaultExportFormat: cfg.DefaultExportFormat,
	}
}

// newInference builds the provider adapter and stacks the decorators around
// it: latency recording, then rate limiting, then retries.
func newInference(ctx context.Context, cfg *config.Config, latency *metrics.LatencyRegistry, log zerolog.Logger) (out.InferenceService, func(), error) {
	zl := logger.Default().Zerolog()
	closer := func() {}

	var svc out.InferenceService
	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil, errMissing("GEMINI_API_KEY")
		}
		g, err := llm.NewGeminiAdapter(ctx, llm.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Timeout: cfg.LLMTimeout(),
			Breaker: cfg.LLMBreaker,
		}, zl)
		if err != nil {
			return nil, nil, err
		}
		closer = func() {
			if err := g.Close(); err != nil {
				log.Warn().Err(err).Msg("closing gemini client")
			}
		}
		svc = g
	default:
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, errMissing("OPENAI_API_KEY")
		}
		svc = llm.NewOpenAIAdapter(llm.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Timeout:    cfg.LLMTimeout(),
			Breaker:    cfg.LLMBreaker,
			HTTPClient: httputil.NewClient(httputil.InferenceClientConfig(cfg.BatchConcurrency)),
		}, zl)
	}

	svc = llm.NewInstrumentedService(svc, latency)
	if cfg.LLMRatePerSec > 0 {
		svc = llm.NewRateLimitedService(svc, cfg.LLMRatePerSec, cfg.BatchConcurrency)
	}
	if cfg.LLMMaxRetries > 0 {
		svc = llm.NewRetryingService(svc, resilience.DefaultRetryPolicy(cfg.LLMMaxRetries), zl)
	}
	return svc, closer, nil
}

func newEmailSource(ctx context.Context, cfg *config.Config) (out.ItemSource, error) {
	zl := logger.Default().Zerolog()
	if cfg.EmailSource == "mailbox" {
		return mailbox.NewSource(cfg.MailboxDir, zl)
	}
	return gmail.NewSource(ctx, gmail.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		TokenFile:    cfg.GmailTokenFile,
		TokenKey:     cfg.GmailTokenKey,
	}, zl)
}

// Components names the configured collaborators for /health.
func (d *Dependencies) Components() map[string]string {
	exporter := "not configured"
	if d.Exporter != nil {
		exporter = "manifest"
	}
	return map[string]string{
		"inference":    componentName(d.Inference),
		"email_source": componentName(d.EmailSource),
		"cad_source":   componentName(d.CADSource),
		"cad_exporter": exporter,
	}
}

// dirCheck reports whether path is a reachable directory.
func dirCheck(path string) func(context.Context) error {
	return func(context.Context) error {
		_, err := os.ReadDir(path)
		return err
	}
}

type named interface{ Name() string }

func componentName(c named) string {
	if c == nil {
		return "not configured"
	}
	return c.Name()
}

func errMissing(key string) error {
	return apperr.ConfigError(fmt.Sprintf("%s is not set", key))
}
