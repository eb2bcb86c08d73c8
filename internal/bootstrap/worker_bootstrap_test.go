package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assist_worker/config"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV", "test")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMAIL_SOURCE", "mailbox")
	t.Setenv("MAILBOX_DIR", dir)
	t.Setenv("CAD_ROOT_DIR", dir)
	t.Setenv("CAD_EXPORT_DIR", filepath.Join(dir, "export"))
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BATCH_CONCURRENCY", "3")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNewDependencies(t *testing.T) {
	cfg := loadTestConfig(t)

	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, map[string]string{
		"inference":    "openai",
		"email_source": "mailbox",
		"cad_source":   "cad",
		"cad_exporter": "manifest",
	}, deps.Components())
	assert.Len(t, deps.Dispatcher.Profiles(), 6)

	s := Settings(cfg)
	assert.Equal(t, 3, s.Concurrency)
	assert.Equal(t, cfg.FallbackCategory, s.FallbackCategory)
	assert.Equal(t, cfg.BatchTimeout(), s.BatchTimeout)
}

func TestNewDependenciesLeavesMissingCollaboratorsNil(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.OpenAIAPIKey = ""
	cfg.MailboxDir = filepath.Join(cfg.MailboxDir, "missing")

	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Inference)
	assert.Nil(t, deps.EmailSource)
	assert.Equal(t, "not configured", deps.Components()["inference"])
}

func TestAPIRoutes(t *testing.T) {
	cfg := loadTestConfig(t)
	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()
	app := newApp(context.Background(), cfg, deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	// The mailbox is empty, so the item fails without reaching inference.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations",
		strings.NewReader(`{"operation":"summarize","item_ids":["nope"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out struct {
		Meta struct {
			Total  int `json:"total"`
			Failed int `json:"failed"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 1, out.Meta.Total)
	assert.Equal(t, 1, out.Meta.Failed)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresTokenWhenSecretSet(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.JWTSecret = "secret"
	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	resp, err := newApp(context.Background(), cfg, deps).Test(httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type batchEnvelope struct {
	Data struct {
		Results []struct {
			ItemID  string `json:"item_id"`
			Status  string `json:"status"`
			Payload struct {
				Export struct {
					OutputPath string `json:"output_path"`
				} `json:"export"`
			} `json:"payload"`
		} `json:"results"`
	} `json:"data"`
	Meta struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
		Cancelled int `json:"cancelled"`
	} `json:"meta"`
}

func postOperation(t *testing.T, app *fiber.App, body string) batchEnvelope {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out batchEnvelope
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestAPIConvertKeepsSameNamedPartsApart(t *testing.T) {
	cfg := loadTestConfig(t)
	for _, name := range []string{"a/part.sldprt", "b/part.sldprt"} {
		path := filepath.Join(cfg.CADRootDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("solid"), 0o600))
	}
	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()
	app := newApp(context.Background(), cfg, deps)

	out := postOperation(t, app, `{"operation":"convert","item_ids":["a/part.sldprt","b/part.sldprt"],"parameters":{"export_format":"STEP"}}`)
	require.Equal(t, 2, out.Meta.Succeeded)

	paths := map[string]bool{}
	for _, r := range out.Data.Results {
		path := r.Payload.Export.OutputPath
		paths[path] = true

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var manifest struct {
			Source string `json:"source"`
		}
		require.NoError(t, json.Unmarshal(raw, &manifest))
		assert.Equal(t, r.ItemID, manifest.Source)
	}
	assert.Len(t, paths, 2)

	out = postOperation(t, app, `{"operation":"convert","parameters":{"directory":"b","export_format":"STL"}}`)
	require.Len(t, out.Data.Results, 1)
	assert.Equal(t, "b/part.sldprt", out.Data.Results[0].ItemID)
	assert.Equal(t, filepath.Join(cfg.CADExportDir, "b", "part.sldprt.stl"), out.Data.Results[0].Payload.Export.OutputPath)
}

func TestAPIShutdownCancelsBatches(t *testing.T) {
	cfg := loadTestConfig(t)
	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	base, cancel := context.WithCancel(context.Background())
	app := newApp(base, cfg, deps)
	cancel()

	out := postOperation(t, app, `{"operation":"summarize","item_ids":["m1","m2"]}`)
	assert.Equal(t, 2, out.Meta.Total)
	assert.Equal(t, 2, out.Meta.Cancelled)
	for _, r := range out.Data.Results {
		assert.Equal(t, "cancelled", r.Status)
	}
}
