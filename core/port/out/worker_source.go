package out

import (
	"context"

	"assist_worker/core/domain"
)

// ItemSource fetches the content of one item. Implementations must be safe for
// concurrent use and return apperr ITEM_NOT_FOUND or SOURCE_UNAVAILABLE errors.
type ItemSource interface {
	Name() string
	Fetch(ctx context.Context, id string) (*domain.ItemContent, error)
}

// ItemLister enumerates the item ids of a directory, in sorted order, whose
// file names match a glob pattern.
type ItemLister interface {
	List(ctx context.Context, dir, pattern string) ([]string, error)
}
