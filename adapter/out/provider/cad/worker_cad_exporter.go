package cad

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
)

// Manifest is the export record written in place of converted geometry.
type Manifest struct {
	Source     string         `json:"source"`
	Format     string         `json:"format"`
	Template   string         `json:"template,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	Directive  string         `json:"directive"`
	ExportedAt time.Time      `json:"exported_at"`
}

// ManifestExporter writes <dir>/<item id><ext> for each job, keeping the
// item's relative directory.
type ManifestExporter struct {
	dir string
	now func() time.Time
	log zerolog.Logger
}

var _ out.CADExporter = (*ManifestExporter)(nil)

func NewManifestExporter(dir string, log zerolog.Logger) (*ManifestExporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("CAD export dir %q unavailable", dir)).WithError(err)
	}
	return &ManifestExporter{dir: dir, now: time.Now, log: log.With().Str("component", "cad_exporter").Logger()}, nil
}

func (e *ManifestExporter) Export(ctx context.Context, job out.ExportJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.Cancelled(err)
	}
	format := domain.NormalizeFormat(job.Format)
	ext := domain.ExtensionFor(format)
	if ext == "" || !domain.IsExportFormat(format) {
		return "", apperr.InvalidParameter("export_format", fmt.Sprintf("%q is not an export format", job.Format))
	}

	rel := filepath.FromSlash(domain.ExportOutputName(job.Item.ID, format))
	if !filepath.IsLocal(rel) {
		return "", apperr.InvalidParameter("item_id", fmt.Sprintf("%q cannot be exported outside the export directory", job.Item.ID))
	}
	path := filepath.Join(e.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apperr.ExportFailed(err)
	}

	data, err := json.MarshalIndent(Manifest{
		Source:     job.Item.ID,
		Format:     format,
		Template:   job.Template,
		Options:    job.Options,
		Directive:  job.Directive,
		ExportedAt: e.now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperr.ExportFailed(err)
	}

	e.log.Info().Str("item_id", job.Item.ID).Str("format", format).Str("output", path).Msg("export written")
	return path, nil
}
