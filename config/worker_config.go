package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"assist_worker/core/domain"
	"assist_worker/pkg/apperr"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string

	// JWT (auth disabled when empty)
	JWTSecret   string
	CORSOrigins string

	// Per-client request rate on the API; zero disables it
	APIRatePerMin int
	BodyLimitKB   int

	// LLM
	LLMProvider      string // openai, gemini
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GeminiAPIKey     string
	LLMModel         string
	LLMModelResponse string
	LLMMaxTokens     int
	LLMMaxTokensCat  int
	LLMTimeoutSec    int
	LLMMaxRetries    int
	LLMRatePerSec    float64
	LLMBreaker       bool

	// Per-operation temperatures
	TempCategorize float64
	TempResponse   float64
	TempSummarize  float64
	TempActions    float64
	TempAnalyze    float64

	// Batch
	Categories       []string
	FallbackCategory string
	BatchConcurrency int
	BatchMaxItems    int
	BatchTimeoutSec  int
	ContentMaxChars  int
	ResponseMaxChars int
	DefaultTone      string

	// Email source
	EmailSource        string // gmail, mailbox
	MailboxDir         string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GmailTokenFile     string
	GmailTokenKey      string

	// CAD
	CADRootDir          string
	CADExportDir        string
	CADMaxFileMB        int
	DefaultExportFormat string
}

func Load() (*Config, error) {
	model := getEnv("LLM_MODEL", "gpt-4o-mini")
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),

		APIRatePerMin: getEnvInt("API_RATE_PER_MIN", 120),
		BodyLimitKB:   getEnvInt("BODY_LIMIT_KB", 256),

		LLMProvider:      strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		LLMModel:         model,
		LLMModelResponse: getEnv("LLM_MODEL_RESPONSE", model),
		LLMMaxTokens:     getEnvInt("LLM_MAX_TOKENS", 1000),
		LLMMaxTokensCat:  getEnvInt("LLM_MAX_TOKENS_CATEGORIZE", 20),
		LLMTimeoutSec:    getEnvInt("LLM_TIMEOUT_SEC", 30),
		LLMMaxRetries:    getEnvInt("LLM_MAX_RETRIES", 0),
		LLMRatePerSec:    getEnvFloat("LLM_RATE_PER_SEC", 0),
		LLMBreaker:       getEnvBool("LLM_CIRCUIT_BREAKER", true),

		TempCategorize: getEnvFloat("LLM_TEMP_CATEGORIZE", 0.3),
		TempResponse:   getEnvFloat("LLM_TEMP_RESPONSE", 0.7),
		TempSummarize:  getEnvFloat("LLM_TEMP_SUMMARIZE", 0.4),
		TempActions:    getEnvFloat("LLM_TEMP_ACTIONS", 0.2),
		TempAnalyze:    getEnvFloat("LLM_TEMP_ANALYZE", 0.4),

		Categories:       getEnvSlice("EMAIL_CATEGORIES", []string{"Work", "Personal", "Spam", "Finance", "Travel", "Newsletter"}),
		FallbackCategory: getEnv("FALLBACK_CATEGORY", "Uncategorized"),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 5),
		BatchMaxItems:    getEnvInt("BATCH_MAX_ITEMS", 50),
		BatchTimeoutSec:  getEnvInt("BATCH_TIMEOUT_SEC", 300),
		ContentMaxChars:  getEnvInt("CONTENT_MAX_CHARS", 4000),
		ResponseMaxChars: getEnvInt("RESPONSE_MAX_CHARS", 4000),
		DefaultTone:      getEnv("DEFAULT_TONE", "professional"),

		EmailSource:        strings.ToLower(getEnv("EMAIL_SOURCE", "gmail")),
		MailboxDir:         getEnv("MAILBOX_DIR", "./mailbox"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GmailTokenFile:     getEnv("GMAIL_TOKEN_FILE", "token.json"),
		GmailTokenKey:      getEnv("GMAIL_TOKEN_KEY", ""),

		CADRootDir:          getEnv("CAD_ROOT_DIR", "./cad"),
		CADExportDir:        getEnv("CAD_EXPORT_DIR", "./cad/export"),
		CADMaxFileMB:        getEnvInt("CAD_MAX_FILE_MB", 100),
		DefaultExportFormat: domain.NormalizeFormat(getEnv("DEFAULT_EXPORT_FORMAT", "STEP")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "openai", "gemini":
	default:
		return apperr.ConfigError(fmt.Sprintf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.EmailSource {
	case "gmail", "mailbox":
	default:
		return apperr.ConfigError(fmt.Sprintf("unsupported EMAIL_SOURCE %q", c.EmailSource))
	}
	if c.BatchConcurrency < 1 {
		return apperr.ConfigError("BATCH_CONCURRENCY must be at least 1")
	}
	if c.BatchMaxItems < 1 {
		return apperr.ConfigError("BATCH_MAX_ITEMS must be at least 1")
	}
	if c.ContentMaxChars < 1 || c.ResponseMaxChars < 1 {
		return apperr.ConfigError("CONTENT_MAX_CHARS and RESPONSE_MAX_CHARS must be positive")
	}
	if len(c.Categories) == 0 {
		return apperr.ConfigError("EMAIL_CATEGORIES must not be empty")
	}
	if strings.TrimSpace(c.FallbackCategory) == "" {
		return apperr.ConfigError("FALLBACK_CATEGORY must not be empty")
	}
	if !domain.IsExportFormat(c.DefaultExportFormat) {
		return apperr.ConfigError(fmt.Sprintf("DEFAULT_EXPORT_FORMAT %q is not a supported export format", c.DefaultExportFormat))
	}
	for kind, p := range c.Profiles() {
		if err := p.Validate(); err != nil {
			return apperr.ConfigError(fmt.Sprintf("profile %s: %v", kind, err))
		}
	}
	return nil
}

// Profiles builds the per-operation inference profiles.
func (c *Config) Profiles() map[domain.OperationKind]domain.InferenceProfile {
	return map[domain.OperationKind]domain.InferenceProfile{
		domain.OperationCategorize:       {Model: c.LLMModel, Temperature: float32(c.TempCategorize), MaxTokens: c.LLMMaxTokensCat},
		domain.OperationGenerateResponse: {Model: c.LLMModelResponse, Temperature: float32(c.TempResponse), MaxTokens: c.LLMMaxTokens},
		domain.OperationSummarize:        {Model: c.LLMModel, Temperature: float32(c.TempSummarize), MaxTokens: c.LLMMaxTokens},
		domain.OperationExtractActions:   {Model: c.LLMModel, Temperature: float32(c.TempActions), MaxTokens: c.LLMMaxTokens},
		domain.OperationAnalyze:          {Model: c.LLMModel, Temperature: float32(c.TempAnalyze), MaxTokens: c.LLMMaxTokens},
		// The exporter ignores sampling; the profile only names it.
		domain.OperationConvert: {Model: "cad-exporter", Temperature: 0, MaxTokens: 1},
	}
}

// LLMTimeout is the bound on a single inference call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

// BatchTimeout is the bound on a whole batch; zero disables it.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSec) * time.Second
}

// CADMaxFileBytes is the size limit applied by the CAD source.
func (c *Config) CADMaxFileBytes() int64 {
	return int64(c.CADMaxFileMB) * 1024 * 1024
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
