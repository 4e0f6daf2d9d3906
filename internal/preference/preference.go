// Package preference stores user reactions and reranks retrieval candidates
// against them.
package preference

import (
	"context"

	"github.com/fetchr/discovery/internal/domain"
)

// Placeholder names one suggested product awaiting a user reaction.
type Placeholder struct {
	ProductID string
	Query     string
}

// Store is the consumer contract for preference persistence.
type Store interface {
	// ProductPreferences returns every recorded product reaction for the
	// request, all cohorts included.
	ProductPreferences(ctx context.Context, requestID string) ([]domain.ProductPreference, error)
	// ImagePreferences returns every recorded image reaction for the request.
	ImagePreferences(ctx context.Context, requestID string) ([]domain.ImagePreference, error)
	// InsertPlaceholders writes unset-preference records for newly suggested
	// products at cohort max(existing)+1. Products that already have a
	// record in the request are skipped.
	InsertPlaceholders(ctx context.Context, userID, requestID string, items []Placeholder) error
}
