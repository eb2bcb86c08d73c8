package in

import (
	"context"

	"assist_worker/core/domain"
)

// OperationService runs batch operations on behalf of the HTTP and CLI surfaces.
type OperationService interface {
	Dispatch(ctx context.Context, req domain.OperationRequest) (*domain.BatchResult, error)
	Catalogue() domain.FormatCatalogue
}
