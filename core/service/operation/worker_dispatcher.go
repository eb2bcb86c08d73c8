package operation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"assist_worker/core/domain"
	"assist_worker/core/port/in"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
)

// Settings is the immutable dispatcher configuration.
type Settings struct {
	Concurrency         int
	MaxBatchSize        int
	BatchTimeout        time.Duration
	MaxContentChars     int
	ResponseMaxChars    int
	Categories          []string
	FallbackCategory    string
	DefaultTone         string
	DefaultExportFormat string
}

// DefaultSettings returns the stock limits.
func DefaultSettings() Settings {
	return Settings{
		Concurrency:         5,
		MaxBatchSize:        50,
		BatchTimeout:        5 * time.Minute,
		MaxContentChars:     4000,
		ResponseMaxChars:    4000,
		FallbackCategory:    "Uncategorized",
		DefaultTone:         "professional",
		DefaultExportFormat: "STEP",
	}
}

// Dependencies are the external collaborators. Any of them may be nil; the
// operations needing a missing one are rejected at dispatch.
type Dependencies struct {
	EmailSource out.ItemSource
	CADSource   out.ItemSource
	Inference   out.InferenceService
	Exporter    out.CADExporter
	Observer    Observer
	Logger      zerolog.Logger
}

type pipeline struct {
	source    out.ItemSource
	build     BuildFunc
	infer     InferFunc
	normalize NormalizeFunc
	resolve   func(p *domain.Parameters) error
}

var _ in.OperationService = (*Dispatcher)(nil)

// Dispatcher routes operation requests to their pipeline and runs the batch.
type Dispatcher struct {
	settings     Settings
	profiles     *ProfileTable
	table        map[domain.OperationKind]pipeline
	inference    out.InferenceService
	exporter     out.CADExporter
	orchestrator *Orchestrator
	log          zerolog.Logger
}

func NewDispatcher(settings Settings, profiles *ProfileTable, deps Dependencies) (*Dispatcher, error) {
	if profiles == nil {
		return nil, apperr.ConfigError("profile table is required")
	}
	if settings.MaxBatchSize < 1 || settings.Concurrency < 1 {
		return nil, apperr.ConfigError("batch size and concurrency must be positive")
	}
	if strings.TrimSpace(settings.FallbackCategory) == "" {
		return nil, apperr.ConfigError("fallback category is required")
	}
	if _, ok := TonePresets[settings.DefaultTone]; !ok {
		return nil, apperr.ConfigError(fmt.Sprintf("unknown default tone %q", settings.DefaultTone))
	}
	if !domain.IsExportFormat(settings.DefaultExportFormat) {
		return nil, apperr.ConfigError(fmt.Sprintf("unsupported default export format %q", settings.DefaultExportFormat))
	}

	d := &Dispatcher{
		settings:     settings,
		profiles:     profiles,
		inference:    deps.Inference,
		exporter:     deps.Exporter,
		orchestrator: NewOrchestrator(settings.Concurrency, deps.Observer, deps.Logger),
		log:          deps.Logger.With().Str("component", "dispatcher").Logger(),
	}

	builder := NewPromptBuilder(settings.MaxContentChars)
	normalizer := NewNormalizer(settings.FallbackCategory, settings.ResponseMaxChars)
	d.table = map[domain.OperationKind]pipeline{
		domain.OperationCategorize: {
			source: deps.EmailSource, build: builder.Categorize, infer: d.complete,
			normalize: normalizer.Category, resolve: d.resolveCategories,
		},
		domain.OperationGenerateResponse: {
			source: deps.EmailSource, build: builder.Response, infer: d.complete,
			normalize: normalizer.Response, resolve: d.resolveTone,
		},
		domain.OperationSummarize: {
			source: deps.EmailSource, build: builder.Summary, infer: d.complete,
			normalize: normalizer.Summary, resolve: noParameters,
		},
		domain.OperationExtractActions: {
			source: deps.EmailSource, build: builder.Actions, infer: d.complete,
			normalize: normalizer.Actions, resolve: noParameters,
		},
		domain.OperationAnalyze: {
			source: deps.CADSource, build: builder.Analysis, infer: d.complete,
			normalize: normalizer.Analysis, resolve: resolveFocus,
		},
		domain.OperationConvert: {
			source: deps.CADSource, build: builder.Export, infer: d.export,
			normalize: normalizer.Export, resolve: d.resolveExport,
		},
	}
	return d, nil
}

// Dispatch validates req and runs it. Configuration errors are returned before
// any item is fetched; everything else is reported per item in the result.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.OperationRequest) (*domain.BatchResult, error) {
	p, ok := d.table[req.Operation]
	if !ok {
		return nil, apperr.UnknownOperation(string(req.Operation))
	}
	ids, err := d.expandItems(ctx, req, p)
	if err != nil {
		return nil, err
	}
	if err := d.checkItems(req.Operation, ids); err != nil {
		return nil, err
	}

	params := req.Parameters
	params.Categories = append([]string(nil), req.Parameters.Categories...)
	if err := p.resolve(&params); err != nil {
		return nil, err
	}
	if err := d.checkDependencies(req.Operation, p); err != nil {
		return nil, err
	}
	profile, ok := d.profiles.Lookup(req.Operation)
	if !ok {
		return nil, apperr.ConfigError(fmt.Sprintf("no inference profile for operation %s", req.Operation))
	}

	if d.settings.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.settings.BatchTimeout)
		defer cancel()
	}

	batchID := uuid.NewString()
	d.log.Info().
		Str("batch_id", batchID).
		Str("operation", req.Operation.String()).
		Int("items", len(ids)).
		Str("source", p.source.Name()).
		Msg("dispatching batch")

	batch := d.orchestrator.Run(ctx, ids, Plan{
		Kind:      req.Operation,
		Params:    params,
		Profile:   profile,
		Source:    p.source,
		Build:     p.build,
		Infer:     p.infer,
		Normalize: p.normalize,
	})
	batch.BatchID = batchID
	return batch, nil
}

// Catalogue lists the supported CAD formats and export templates.
func (d *Dispatcher) Catalogue() domain.FormatCatalogue {
	return domain.Catalogue()
}

// Profiles returns the inference profile of every operation.
func (d *Dispatcher) Profiles() map[domain.OperationKind]domain.InferenceProfile {
	return d.profiles.All()
}

// expandItems lists the files of a CAD directory when the request names one
// instead of item ids. The listing is sorted so batches stay reproducible.
func (d *Dispatcher) expandItems(ctx context.Context, req domain.OperationRequest, p pipeline) ([]string, error) {
	dir := strings.TrimSpace(req.Parameters.Directory)
	if dir == "" {
		return append([]string(nil), req.ItemIDs...), nil
	}
	if req.Operation.Source() != domain.SourceCAD {
		return nil, apperr.InvalidParameter("directory", fmt.Sprintf("%s does not read CAD directories", req.Operation))
	}
	if len(req.ItemIDs) > 0 {
		return nil, apperr.InvalidParameter("directory", "directory and item_ids are mutually exclusive")
	}
	lister, ok := p.source.(out.ItemLister)
	if !ok {
		return nil, apperr.ConfigError(fmt.Sprintf("no listable CAD data source configured for %s", req.Operation))
	}
	pattern := strings.TrimSpace(req.Parameters.FilePattern)
	if pattern == "" {
		pattern = domain.DefaultFilePattern
	}
	ids, err := lister.List(ctx, dir, pattern)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperr.InvalidParameter("directory", fmt.Sprintf("no files in %q match %q", dir, pattern))
	}
	return ids, nil
}

// checkItems rejects empty, oversized and duplicated batches. CAD ids are
// compared by cleaned path so two spellings of one file cannot share an output.
func (d *Dispatcher) checkItems(kind domain.OperationKind, ids []string) error {
	if len(ids) == 0 {
		return apperr.MissingParameter("item_ids")
	}
	if len(ids) > d.settings.MaxBatchSize {
		return apperr.BatchTooLarge(len(ids), d.settings.MaxBatchSize)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return apperr.InvalidParameter("item_ids", "item id must not be empty")
		}
		key := id
		if kind.Source() == domain.SourceCAD {
			key = domain.CanonicalCADPath(id)
		}
		if _, dup := seen[key]; dup {
			return apperr.InvalidParameter("item_ids", fmt.Sprintf("duplicate item id %q", id))
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (d *Dispatcher) checkDependencies(kind domain.OperationKind, p pipeline) error {
	if p.source == nil {
		return apperr.ConfigError(fmt.Sprintf("no %s data source configured for %s", kind.Source(), kind))
	}
	if kind == domain.OperationConvert {
		if d.exporter == nil {
			return apperr.ConfigError("no CAD exporter configured")
		}
	} else if d.inference == nil {
		return apperr.ConfigError("no inference service configured")
	}
	return nil
}

func (d *Dispatcher) complete(ctx context.Context, _ *domain.ItemContent, prompt string, _ domain.Parameters, profile domain.InferenceProfile) (string, error) {
	return d.inference.Complete(ctx, prompt, profile)
}

func (d *Dispatcher) export(ctx context.Context, item *domain.ItemContent, prompt string, params domain.Parameters, _ domain.InferenceProfile) (string, error) {
	return d.exporter.Export(ctx, out.ExportJob{
		Item:      item,
		Format:    params.ExportFormat,
		Template:  params.Template,
		Options:   domain.ExportTemplates[params.ExportFormat][params.Template],
		Directive: prompt,
	})
}

// resolveCategories falls back to the configured vocabulary and drops blank
// or case-insensitive duplicate entries, keeping the first spelling.
func (d *Dispatcher) resolveCategories(p *domain.Parameters) error {
	source := p.Categories
	if len(source) == 0 {
		source = d.settings.Categories
	}
	seen := make(map[string]struct{}, len(source))
	var categories []string
	for _, c := range source {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		categories = append(categories, c)
	}
	if len(categories) == 0 {
		return apperr.MissingParameter("categories")
	}
	p.Categories = categories
	return nil
}

func (d *Dispatcher) resolveTone(p *domain.Parameters) error {
	tone := strings.ToLower(strings.TrimSpace(p.Tone))
	if tone == "" {
		tone = d.settings.DefaultTone
	}
	if _, ok := TonePresets[tone]; !ok {
		return apperr.InvalidParameter("tone", fmt.Sprintf("unknown tone %q", p.Tone))
	}
	p.Tone = tone
	return nil
}

func (d *Dispatcher) resolveExport(p *domain.Parameters) error {
	format := domain.NormalizeFormat(p.ExportFormat)
	if format == "" {
		format = d.settings.DefaultExportFormat
	}
	if !domain.IsExportFormat(format) {
		return apperr.InvalidParameter("export_format", fmt.Sprintf("unsupported export format %q", p.ExportFormat))
	}
	p.ExportFormat = format

	if p.Template = strings.TrimSpace(p.Template); p.Template != "" {
		if _, ok := domain.ExportTemplates[format][p.Template]; !ok {
			return apperr.InvalidParameter("template", fmt.Sprintf("no template %q for %s", p.Template, format))
		}
	}
	return nil
}

func resolveFocus(p *domain.Parameters) error {
	focus := strings.ToLower(strings.TrimSpace(p.Focus))
	if focus == "" {
		focus = "general"
	}
	if _, ok := AnalysisFocus[focus]; !ok {
		return apperr.InvalidParameter("focus", fmt.Sprintf("unknown focus %q", p.Focus))
	}
	p.Focus = focus

	switch focus {
	case "export":
		if strings.TrimSpace(p.Instructions) == "" {
			return apperr.MissingParameter("instructions")
		}
	case "troubleshoot":
		if strings.TrimSpace(p.Instructions) == "" {
			return apperr.MissingParameter("instructions")
		}
		if p.ExportFormat != "" {
			format := domain.NormalizeFormat(p.ExportFormat)
			if !domain.IsExportFormat(format) {
				return apperr.InvalidParameter("export_format", fmt.Sprintf("unsupported export format %q", p.ExportFormat))
			}
			p.ExportFormat = format
		}
	}
	return nil
}

func noParameters(*domain.Parameters) error { return nil }
