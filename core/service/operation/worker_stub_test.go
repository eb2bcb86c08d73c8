package operation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
)

// stubSource serves items from a map and counts fetch calls.
type stubSource struct {
	items    map[string]*domain.ItemContent
	failures map[string]error
	delay    time.Duration
	calls    atomic.Int32
}

func newStubSource(ids ...string) *stubSource {
	s := &stubSource{items: map[string]*domain.ItemContent{}, failures: map[string]error{}}
	for _, id := range ids {
		s.items[id] = &domain.ItemContent{
			ID:      id,
			Source:  domain.SourceEmail,
			Subject: "Subject " + id,
			From:    id + "@example.com",
			Body:    "Body of " + id,
		}
	}
	return s
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(ctx context.Context, id string) (*domain.ItemContent, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, apperr.SourceUnavailable("stub", ctx.Err())
		}
	}
	if err, ok := s.failures[id]; ok {
		return nil, err
	}
	item, ok := s.items[id]
	if !ok {
		return nil, apperr.ItemNotFound(id)
	}
	return item, nil
}

// stubInference answers from a function and records prompts.
type stubInference struct {
	answer  func(prompt string) (string, error)
	delay   time.Duration
	mu      sync.Mutex
	prompts []string
}

func fixedAnswer(text string) *stubInference {
	return &stubInference{answer: func(string) (string, error) { return text, nil }}
}

func (s *stubInference) Name() string { return "stub" }

func (s *stubInference) Complete(ctx context.Context, prompt string, _ domain.InferenceProfile) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", apperr.InferenceTimeout("stub", ctx.Err())
		}
	}
	return s.answer(prompt)
}

// answerBySubject returns a per-item answer keyed by the item id found in the prompt.
func answerBySubject(answers map[string]string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		for id, a := range answers {
			if strings.Contains(prompt, "Subject: Subject "+id+"\n") {
				return a, nil
			}
		}
		return "", apperr.InferenceUnavailable("stub", nil)
	}
}

// listingSource is a stubSource that also enumerates directories.
type listingSource struct {
	*stubSource
	dirs    map[string][]string
	pattern string
}

func (s *listingSource) List(_ context.Context, dir, pattern string) ([]string, error) {
	s.pattern = pattern
	listed, ok := s.dirs[dir]
	if !ok {
		return nil, apperr.InvalidParameter("directory", "not found")
	}
	return listed, nil
}

type stubExporter struct {
	jobs atomic.Int32
	ext  string
}

func (e *stubExporter) Export(_ context.Context, job out.ExportJob) (string, error) {
	e.jobs.Add(1)
	ext := e.ext
	if ext == "" {
		ext = domain.ExtensionFor(job.Format)
	}
	return "/export/" + job.Item.ID + ext, nil
}

// concurrencyObserver tracks how many items sit between Fetching and a
// terminal stage, plus validation rejections.
type concurrencyObserver struct {
	mu         sync.Mutex
	active     map[int]bool
	current    int
	peak       int
	stages     map[int][]domain.ItemStage
	rejections []string
}

func newConcurrencyObserver() *concurrencyObserver {
	return &concurrencyObserver{active: map[int]bool{}, stages: map[int][]domain.ItemStage{}}
}

func (o *concurrencyObserver) StageChanged(index int, _ string, stage domain.ItemStage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages[index] = append(o.stages[index], stage)
	switch {
	case stage == domain.StageFetching:
		o.active[index] = true
		o.current++
		if o.current > o.peak {
			o.peak = o.current
		}
	case stage.Terminal() && o.active[index]:
		delete(o.active, index)
		o.current--
	}
}

func (o *concurrencyObserver) ValidationRejected(_ int, itemID, _, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejections = append(o.rejections, itemID)
}

func (o *concurrencyObserver) Peak() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peak
}

func testProfiles() map[domain.OperationKind]domain.InferenceProfile {
	profiles := make(map[domain.OperationKind]domain.InferenceProfile)
	for _, k := range domain.AllOperations {
		profiles[k] = domain.InferenceProfile{Model: "test-model", Temperature: 0, MaxTokens: 100}
	}
	return profiles
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Categories = []string{"Work", "Personal", "Spam"}
	s.BatchTimeout = 0
	return s
}

func newTestDispatcher(settings Settings, deps Dependencies) *Dispatcher {
	table, err := NewProfileTable(testProfiles())
	if err != nil {
		panic(err)
	}
	deps.Logger = zerolog.Nop()
	d, err := NewDispatcher(settings, table, deps)
	if err != nil {
		panic(err)
	}
	return d
}
