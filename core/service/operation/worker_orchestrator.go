package operation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
)

// Observer receives item transitions. Calls arrive from several goroutines.
type Observer interface {
	StageChanged(index int, itemID string, stage domain.ItemStage)
	ValidationRejected(index int, itemID, raw, fallback string)
}

type noopObserver struct{}

func (noopObserver) StageChanged(int, string, domain.ItemStage)       {}
func (noopObserver) ValidationRejected(int, string, string, string) {}

type (
	BuildFunc     func(item *domain.ItemContent, params domain.Parameters) Prompt
	InferFunc     func(ctx context.Context, item *domain.ItemContent, prompt string, params domain.Parameters, profile domain.InferenceProfile) (string, error)
	NormalizeFunc func(raw string, params domain.Parameters) (Normalized, error)
)

// Plan is everything one batch run needs, resolved before any item starts.
type Plan struct {
	Kind      domain.OperationKind
	Params    domain.Parameters
	Profile   domain.InferenceProfile
	Source    out.ItemSource
	Build     BuildFunc
	Infer     InferFunc
	Normalize NormalizeFunc
}

// Orchestrator runs one pipeline per item with at most concurrency in flight.
type Orchestrator struct {
	concurrency int
	observer    Observer
	log         zerolog.Logger
}

func NewOrchestrator(concurrency int, observer Observer, log zerolog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Orchestrator{
		concurrency: concurrency,
		observer:    observer,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run processes ids and returns one result per id in input order. Item
// failures stay on their own result. When ctx ends, items that did not
// finish are reported as cancelled.
func (o *Orchestrator) Run(ctx context.Context, ids []string, plan Plan) *domain.BatchResult {
	start := time.Now()
	results := make([]domain.NormalizedResult, len(ids))

	// A plain group: item errors never cancel siblings, only ctx does.
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = o.runItem(ctx, i, id, plan)
			return nil
		})
	}
	_ = g.Wait()

	batch := &domain.BatchResult{Operation: plan.Kind, Results: results}
	for i := range results {
		if results[i].Status == "" {
			results[i] = cancelledResult(ids[i], domain.StagePending, ctx.Err())
			o.observer.StageChanged(i, ids[i], domain.StageCancelled)
		}
		switch results[i].Status {
		case domain.StatusSucceeded:
			batch.Succeeded++
		case domain.StatusFailed:
			batch.Failed++
		case domain.StatusCancelled:
			batch.Cancelled++
		}
	}

	o.log.Info().
		Str("operation", plan.Kind.String()).
		Int("items", len(ids)).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Int("cancelled", batch.Cancelled).
		Dur("duration", time.Since(start)).
		Msg("batch finished")
	return batch
}

func (o *Orchestrator) runItem(ctx context.Context, index int, id string, plan Plan) (res domain.NormalizedResult) {
	stage := domain.StagePending
	advance := func(next domain.ItemStage) {
		stage = next
		o.observer.StageChanged(index, id, next)
		o.log.Debug().Str("item_id", id).Str("stage", string(next)).Msg("item stage")
	}

	defer func() {
		if r := recover(); r != nil {
			res = o.fail(ctx, index, id, stage, apperr.Internal(fmt.Sprintf("panic in %s stage: %v", stage, r)))
		}
	}()

	if err := ctx.Err(); err != nil {
		return o.cancel(index, id, stage, err)
	}

	advance(domain.StageFetching)
	item, err := plan.Source.Fetch(ctx, id)
	if err != nil {
		return o.fail(ctx, index, id, stage, err)
	}

	advance(domain.StagePrompting)
	prompt := plan.Build(item, plan.Params)
	if err := ctx.Err(); err != nil {
		return o.cancel(index, id, stage, err)
	}

	advance(domain.StageInferring)
	raw, err := plan.Infer(ctx, item, prompt.Text, plan.Params, plan.Profile)
	if err != nil {
		return o.fail(ctx, index, id, stage, err)
	}

	advance(domain.StageValidating)
	norm, err := plan.Normalize(raw, plan.Params)
	if err != nil {
		return o.fail(ctx, index, id, stage, err)
	}
	if norm.FallbackApplied {
		o.observer.ValidationRejected(index, id, norm.Rejected, norm.Payload.Category)
		o.log.Warn().Str("item_id", id).Str("fallback", norm.Payload.Category).Msg("model answer outside vocabulary, fallback applied")
	}

	advance(domain.StageCompleted)
	payload := norm.Payload
	return domain.NormalizedResult{
		ItemID:          id,
		Status:          domain.StatusSucceeded,
		Payload:         &payload,
		FallbackApplied: norm.FallbackApplied,
		Truncated:       prompt.Truncated,
	}
}

// fail converts err into a failed result. Errors raised after the batch
// context ended count as cancellations unless they are definitive.
func (o *Orchestrator) fail(ctx context.Context, index int, id string, stage domain.ItemStage, err error) domain.NormalizedResult {
	if ctx.Err() != nil && !definitive(err) {
		return o.cancel(index, id, stage, err)
	}

	appErr := apperr.AsAppError(err)
	o.observer.StageChanged(index, id, domain.StageFailed)
	o.log.Warn().
		Str("item_id", id).
		Str("stage", string(stage)).
		Str("code", appErr.Code).
		Err(err).
		Msg("item failed")

	return domain.NormalizedResult{
		ItemID:   id,
		Status:   domain.StatusFailed,
		Error:    errorInfo(appErr),
		FailedAt: stage,
	}
}

func (o *Orchestrator) cancel(index int, id string, stage domain.ItemStage, err error) domain.NormalizedResult {
	o.observer.StageChanged(index, id, domain.StageCancelled)
	return cancelledResult(id, stage, err)
}

func cancelledResult(id string, stage domain.ItemStage, err error) domain.NormalizedResult {
	return domain.NormalizedResult{
		ItemID:   id,
		Status:   domain.StatusCancelled,
		Error:    errorInfo(apperr.Cancelled(err)),
		FailedAt: stage,
	}
}

func definitive(err error) bool {
	return apperr.IsKind(err, apperr.KindValidation) || apperr.HasCode(err, apperr.CodeItemNotFound)
}

func errorInfo(e *apperr.AppError) *domain.ErrorInfo {
	msg := e.Message
	if e.Err != nil {
		msg = e.Error()
	}
	return &domain.ErrorInfo{
		Kind:      string(e.Kind),
		Code:      e.Code,
		Message:   msg,
		Retryable: e.Retryable(),
	}
}
