package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures exponential backoff with full jitter.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter draws each delay uniformly from [0, backoff].
	Jitter bool
}

// DefaultRetryPolicy returns a policy with the given retry count.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Jitter:     true,
	}
}

// Backoff returns the delay before retry number attempt (starting at 1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.Jitter {
		return time.Duration(rand.Int64N(int64(delay) + 1)) // #nosec G404 -- jitter only
	}
	return delay
}

// Retry calls fn until it succeeds, returns an error retryable rejects, the
// retry budget runs out or ctx ends. It returns the last error of fn.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return err
		}

		timer := time.NewTimer(p.Backoff(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
