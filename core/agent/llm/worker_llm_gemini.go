package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/resilience"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey  string
	Timeout time.Duration
	Breaker bool
	// Options are appended to the client options (endpoint overrides in tests).
	Options []option.ClientOption
}

// GeminiAdapter sends one GenerateContent call per Complete call.
type GeminiAdapter struct {
	client  *genai.Client
	timeout time.Duration
	breaker *resilience.Breaker
	log     zerolog.Logger
}

var _ out.InferenceService = (*GeminiAdapter)(nil)

func NewGeminiAdapter(ctx context.Context, cfg GeminiConfig, log zerolog.Logger) (*GeminiAdapter, error) {
	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	a := &GeminiAdapter{
		client:  client,
		timeout: cfg.Timeout,
		log:     log.With().Str("component", "gemini").Logger(),
	}
	if cfg.Breaker {
		a.breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig("gemini-api"), a.log)
	}
	return a, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

// Close releases the underlying client.
func (a *GeminiAdapter) Close() error {
	return a.client.Close()
}

func (a *GeminiAdapter) Complete(ctx context.Context, prompt string, profile domain.InferenceProfile) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	model := a.client.GenerativeModel(profile.Model)
	model.SetTemperature(profile.Temperature)
	model.SetMaxOutputTokens(int32(profile.MaxTokens))

	start := time.Now()
	var content string
	call := func() error {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			classified := classifyGoogle(a.Name(), err)
			if isCallerSide(classified) {
				return resilience.Permanent(classified)
			}
			return classified
		}
		content = responseText(resp)
		return nil
	}

	var err error
	if a.breaker != nil {
		err = a.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		err = classifyGoogle(a.Name(), err)
		a.log.Debug().Str("model", profile.Model).Err(err).Dur("duration", time.Since(start)).Msg("generation failed")
		return "", err
	}

	a.log.Debug().Str("model", profile.Model).Dur("duration", time.Since(start)).Msg("generation done")
	return content, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
