package metrics

import (
	"sync"

	"assist_worker/core/domain"
)

// PipelineCounters counts item outcomes and fallback substitutions across
// batches. It satisfies the orchestrator's observer contract.
type PipelineCounters struct {
	mu        sync.Mutex
	completed int64
	failed    int64
	cancelled int64
	fallbacks int64
}

func NewPipelineCounters() *PipelineCounters {
	return &PipelineCounters{}
}

func (p *PipelineCounters) StageChanged(_ int, _ string, stage domain.ItemStage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch stage {
	case domain.StageCompleted:
		p.completed++
	case domain.StageFailed:
		p.failed++
	case domain.StageCancelled:
		p.cancelled++
	}
}

func (p *PipelineCounters) ValidationRejected(int, string, string, string) {
	p.mu.Lock()
	p.fallbacks++
	p.mu.Unlock()
}

// Snapshot returns the current counters.
func (p *PipelineCounters) Snapshot() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int64{
		"completed": p.completed,
		"failed":    p.failed,
		"cancelled": p.cancelled,
		"fallbacks": p.fallbacks,
	}
}
