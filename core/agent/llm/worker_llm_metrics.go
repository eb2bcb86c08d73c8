package llm

import (
	"context"
	"time"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/metrics"
)

// InstrumentedService records the latency of every call, failed or not,
// under "<provider>/<model>".
type InstrumentedService struct {
	next     out.InferenceService
	registry *metrics.LatencyRegistry
}

func NewInstrumentedService(next out.InferenceService, registry *metrics.LatencyRegistry) *InstrumentedService {
	return &InstrumentedService{next: next, registry: registry}
}

func (s *InstrumentedService) Name() string { return s.next.Name() }

func (s *InstrumentedService) Complete(ctx context.Context, prompt string, profile domain.InferenceProfile) (string, error) {
	start := time.Now()
	content, err := s.next.Complete(ctx, prompt, profile)
	s.registry.Record(s.next.Name()+"/"+profile.Model, time.Since(start))
	return content, err
}
