package out

import (
	"context"

	"assist_worker/core/domain"
)

// ExportJob describes one CAD export.
type ExportJob struct {
	Item      *domain.ItemContent
	Format    string
	Template  string
	Options   map[string]any
	Directive string
}

// CADExporter writes an item in another format and returns the artifact path.
type CADExporter interface {
	Export(ctx context.Context, job ExportJob) (string, error)
}
