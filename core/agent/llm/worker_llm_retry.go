package llm

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
	"assist_worker/pkg/resilience"
)

// RetryingService retries timeouts and unavailability of the wrapped service
// with exponential backoff. Quota and credential failures are returned at once.
type RetryingService struct {
	next   out.InferenceService
	policy resilience.RetryPolicy
	log    zerolog.Logger
}

func NewRetryingService(next out.InferenceService, policy resilience.RetryPolicy, log zerolog.Logger) *RetryingService {
	return &RetryingService{next: next, policy: policy, log: log.With().Str("component", "inference_retry").Logger()}
}

func (s *RetryingService) Name() string { return s.next.Name() }

func (s *RetryingService) Complete(ctx context.Context, prompt string, profile domain.InferenceProfile) (string, error) {
	var content string
	attempt := 0
	err := resilience.Retry(ctx, s.policy, isRetryableInference, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.log.Debug().Int("attempt", attempt).Str("model", profile.Model).Msg("retrying inference")
		}
		var err error
		content, err = s.next.Complete(ctx, prompt, profile)
		return err
	})
	return content, err
}

func isRetryableInference(err error) bool {
	return apperr.HasCode(err, apperr.CodeInferenceTimeout) || apperr.HasCode(err, apperr.CodeInferenceUnavailable)
}

// RateLimitedService spaces calls to the wrapped service with a token bucket
// shared by every batch.
type RateLimitedService struct {
	next    out.InferenceService
	limiter *rate.Limiter
}

func NewRateLimitedService(next out.InferenceService, perSecond float64, burst int) *RateLimitedService {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedService{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (s *RateLimitedService) Name() string { return s.next.Name() }

func (s *RateLimitedService) Complete(ctx context.Context, prompt string, profile domain.InferenceProfile) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", apperr.InferenceTimeout(s.Name(), err)
	}
	return s.next.Complete(ctx, prompt, profile)
}
