package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/resilience"
)

const DefaultModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Breaker bool
	// HTTPClient overrides the default transport when set.
	HTTPClient *http.Client
}

// OpenAIAdapter sends one chat completion per Complete call.
type OpenAIAdapter struct {
	client  *openai.Client
	timeout time.Duration
	breaker *resilience.Breaker
	log     zerolog.Logger
}

var _ out.InferenceService = (*OpenAIAdapter)(nil)

func NewOpenAIAdapter(cfg OpenAIConfig, log zerolog.Logger) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	a := &OpenAIAdapter{
		client:  openai.NewClientWithConfig(clientCfg),
		timeout: cfg.Timeout,
		log:     log.With().Str("component", "openai").Logger(),
	}
	if cfg.Breaker {
		a.breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig("openai-api"), a.log)
	}
	return a
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// Complete sends prompt as a single user message with the profile's sampling settings.
func (a *OpenAIAdapter) Complete(ctx context.Context, prompt string, profile domain.InferenceProfile) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	model := profile.Model
	if model == "" {
		model = DefaultModel
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}

	start := time.Now()
	var content string
	call := func() error {
		resp, err := a.client.CreateChatCompletion(ctx, req)
		if err != nil {
			classified := classifyOpenAI(a.Name(), err)
			if isCallerSide(classified) {
				return resilience.Permanent(classified)
			}
			return classified
		}
		if len(resp.Choices) > 0 {
			content = resp.Choices[0].Message.Content
		}
		return nil
	}

	var err error
	if a.breaker != nil {
		err = a.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		err = classifyOpenAI(a.Name(), err)
		a.log.Debug().Str("model", model).Err(err).Dur("duration", time.Since(start)).Msg("completion failed")
		return "", err
	}

	a.log.Debug().Str("model", model).Dur("duration", time.Since(start)).Msg("completion done")
	return content, nil
}
