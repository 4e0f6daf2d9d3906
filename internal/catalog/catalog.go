// Package catalog reads product and brand data from the system of record.
package catalog

import (
	"context"

	"github.com/fetchr/discovery/internal/domain"
)

// Store is the consumer contract for catalog reads.
type Store interface {
	// Product returns one product or domain.ErrProductNotFound.
	Product(ctx context.Context, id string) (domain.Product, error)
	// ProductsByIDs returns the products that exist among ids, in the order
	// the ids were given. Missing ids are skipped, not an error.
	ProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
	// ProductsPage returns one page of the full catalog for batch indexing.
	ProductsPage(ctx context.Context, offset, limit int) ([]domain.Product, error)
	NameSource
}

// NameSource resolves brand and sub-brand display names.
type NameSource interface {
	// BrandName returns the brand display name or domain.ErrBrandNotFound.
	BrandName(ctx context.Context, brandID string) (string, error)
	// SubBrandName returns the sub-brand display name or domain.ErrBrandNotFound.
	SubBrandName(ctx context.Context, subBrandID string) (string, error)
}
