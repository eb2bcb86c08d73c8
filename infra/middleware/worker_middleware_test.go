package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assist_worker/pkg/apperr"
	"assist_worker/pkg/logger"
)

const testSecret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(Recover(), RequestID(), RequestLogger())
	return app
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestErrorHandlerMapsAppError(t *testing.T) {
	app := newApp()
	app.Get("/fail", func(c *fiber.Ctx) error {
		return apperr.InferenceUnavailable("openai", errors.New("down"))
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
	body := decodeError(t, resp)
	assert.False(t, body.Success)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, apperr.CodeInferenceUnavailable, body.Error.Code)
	assert.Equal(t, apperr.KindInference, body.Error.Kind)
	assert.True(t, body.Error.Retryable)
}

func TestErrorHandlerUnknownErrors(t *testing.T) {
	app := newApp()
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("bad") })

	for _, path := range []string{"/boom", "/panic"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)
		assert.Equal(t, apperr.CodeInternalError, decodeError(t, resp).Error.Code)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
}

func TestRequestIDReachesUserContext(t *testing.T) {
	app := newApp()
	app.Get("/id", func(c *fiber.Ctx) error {
		return c.SendString(logger.RequestIDFromContext(c.UserContext()))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/id", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.NotEmpty(t, string(body))
	assert.Equal(t, resp.Header.Get("X-Request-ID"), string(body))
}

func TestBaseContextCancelsUserContext(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(Recover(), BaseContext(base), RequestID())
	app.Get("/ctx", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if logger.RequestIDFromContext(ctx) == "" {
			return errors.New("request id lost")
		}
		if ctx.Err() != nil {
			return c.SendString("cancelled")
		}
		return c.SendString("live")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ctx", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "live", string(body))

	cancel()
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ctx", nil))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "cancelled", string(body))
}

func TestJWTAuth(t *testing.T) {
	app := newApp()
	app.Get("/secure", JWTAuth(testSecret), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("subject").(string))
	})

	now := time.Now()
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "host-1", "iat": now.Unix(), "exp": now.Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, apperr.CodeUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, apperr.CodeUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "x"}), http.StatusUnauthorized, apperr.CodeInvalidToken},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "x", "exp": now.Add(-time.Hour).Unix(),
		}), http.StatusUnauthorized, apperr.CodeInvalidToken},
		{"future iat", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "x", "iat": now.Add(time.Hour).Unix(),
		}), http.StatusUnauthorized, apperr.CodeInvalidToken},
		{"no subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"exp": now.Add(time.Hour).Unix(),
		}), http.StatusUnauthorized, apperr.CodeInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/secure", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeError(t, resp).Error.Code)
			} else {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, "host-1", string(body))
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	app := newApp()
	app.Get("/", rl.Handler(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
			assert.Equal(t, "RATE_LIMITED", decodeError(t, resp).Error.Code)
		}
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, statuses)

	now = now.Add(time.Minute)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestBodyChecks(t *testing.T) {
	app := newApp()
	app.Use(SecurityHeaders(), RequireJSON(), MaxBodySize(16))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	send := func(contentType, body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := send("application/json", `{}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusUnsupportedMediaType, send("text/plain", "hello").StatusCode)
	assert.Equal(t, http.StatusRequestEntityTooLarge, send("application/json", `{"padding":"xxxxxxxxxxxx"}`).StatusCode)
}
