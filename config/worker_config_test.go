package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assist_worker/core/domain"
	"assist_worker/pkg/apperr"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 5, cfg.BatchConcurrency)
	assert.Equal(t, 50, cfg.BatchMaxItems)
	assert.Equal(t, "Uncategorized", cfg.FallbackCategory)
	assert.Equal(t, "STEP", cfg.DefaultExportFormat)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
	assert.Equal(t, int64(100*1024*1024), cfg.CADMaxFileBytes())

	profiles := cfg.Profiles()
	assert.Len(t, profiles, len(domain.AllOperations))
	assert.InDelta(t, 0.3, profiles[domain.OperationCategorize].Temperature, 1e-6)
	assert.Equal(t, 20, profiles[domain.OperationCategorize].MaxTokens)
	assert.InDelta(t, 0.7, profiles[domain.OperationGenerateResponse].Temperature, 1e-6)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("LLM_MODEL", "gemini-1.5-flash")
	t.Setenv("EMAIL_CATEGORIES", "Work, Personal ,,Spam")
	t.Setenv("BATCH_CONCURRENCY", "2")
	t.Setenv("DEFAULT_EXPORT_FORMAT", "stl")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.Equal(t, []string{"Work", "Personal", "Spam"}, cfg.Categories)
	assert.Equal(t, 2, cfg.BatchConcurrency)
	assert.Equal(t, "STL", cfg.DefaultExportFormat)
	assert.Equal(t, "gemini-1.5-flash", cfg.Profiles()[domain.OperationGenerateResponse].Model)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"provider", "LLM_PROVIDER", "llama"},
		{"email source", "EMAIL_SOURCE", "imap"},
		{"concurrency", "BATCH_CONCURRENCY", "0"},
		{"max items", "BATCH_MAX_ITEMS", "-1"},
		{"temperature", "LLM_TEMP_RESPONSE", "2.5"},
		{"max tokens", "LLM_MAX_TOKENS_CATEGORIZE", "0"},
		{"export format", "DEFAULT_EXPORT_FORMAT", "PLY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
		})
	}
}
