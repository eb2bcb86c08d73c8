package out

import (
	"context"

	"assist_worker/core/domain"
)

// InferenceService turns a prompt into free text. Each call is a single
// outbound request; failures are apperr inference errors (timeout,
// quota/auth, unavailable).
type InferenceService interface {
	Name() string
	Complete(ctx context.Context, prompt string, profile domain.InferenceProfile) (string, error)
}
