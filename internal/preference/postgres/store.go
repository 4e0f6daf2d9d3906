// Package postgres persists preference records in the product database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/preference"
)

// Compile-time check: Store implements preference.Store.
var _ preference.Store = (*Store)(nil)

// Store reads and writes preference records via sqlx.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore wraps an existing database handle; preferences share the catalog
// database.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

type productPreferenceRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	RequestID string         `db:"request_id"`
	ProductID string         `db:"product_id"`
	Cohort    int            `db:"cohort"`
	Query     sql.NullString `db:"query"`
	Type      sql.NullString `db:"type"`
	Comment   sql.NullString `db:"comment"`
}

type imagePreferenceRow struct {
	ID        string          `db:"id"`
	UserID    string          `db:"user_id"`
	RequestID string          `db:"request_id"`
	ImageURL  string          `db:"image_url"`
	Type      sql.NullString  `db:"type"`
	Embedding pq.Float64Array `db:"embedding"`
}

// ProductPreferences returns every product reaction for the request.
func (s *Store) ProductPreferences(ctx context.Context, requestID string) ([]domain.ProductPreference, error) {
	var rows []productPreferenceRow
	query := `
		SELECT id, user_id, request_id, product_id, cohort, query, type, comment
		FROM product_preferences
		WHERE request_id = $1
		ORDER BY cohort, created_at`
	if err := s.db.SelectContext(ctx, &rows, query, requestID); err != nil {
		return nil, fmt.Errorf("select product preferences for %s: %w", requestID, err)
	}

	out := make([]domain.ProductPreference, len(rows))
	for i, r := range rows {
		out[i] = domain.ProductPreference{
			ID:        r.ID,
			UserID:    r.UserID,
			RequestID: r.RequestID,
			ProductID: r.ProductID,
			Cohort:    r.Cohort,
			Query:     r.Query.String,
			Type:      domain.PreferenceType(r.Type.String),
			Comment:   r.Comment.String,
		}
	}
	return out, nil
}

// ImagePreferences returns every image reaction for the request.
func (s *Store) ImagePreferences(ctx context.Context, requestID string) ([]domain.ImagePreference, error) {
	var rows []imagePreferenceRow
	query := `
		SELECT id, user_id, request_id, image_url, type, embedding
		FROM image_preferences
		WHERE request_id = $1
		ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &rows, query, requestID); err != nil {
		return nil, fmt.Errorf("select image preferences for %s: %w", requestID, err)
	}

	out := make([]domain.ImagePreference, len(rows))
	for i, r := range rows {
		emb := make([]float32, len(r.Embedding))
		for j, v := range r.Embedding {
			emb[j] = float32(v)
		}
		out[i] = domain.ImagePreference{
			ID:        r.ID,
			UserID:    r.UserID,
			RequestID: r.RequestID,
			ImageURL:  r.ImageURL,
			Type:      domain.PreferenceType(r.Type.String),
			Embedding: emb,
		}
	}
	return out, nil
}

// InsertPlaceholders writes unset records for newly suggested products at
// cohort max(existing)+1. Products that already have a record in the request
// are skipped, so earlier cohorts are never overwritten.
func (s *Store) InsertPlaceholders(ctx context.Context, userID, requestID string, items []preference.Placeholder) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin placeholder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cohort int
	err = tx.GetContext(ctx, &cohort, `
		SELECT COALESCE(MAX(cohort), 0) + 1
		FROM product_preferences
		WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("resolve next cohort for %s: %w", requestID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO product_preferences (id, user_id, request_id, product_id, cohort, query, type)
		SELECT $1, $2, $3, $4, $5, $6, ''
		WHERE NOT EXISTS (
			SELECT 1 FROM product_preferences
			WHERE request_id = $3 AND product_id = $4
		)`)
	if err != nil {
		return fmt.Errorf("prepare placeholder insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), userID, requestID, item.ProductID, cohort, item.Query,
		); err != nil {
			return fmt.Errorf("insert placeholder for product %s: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit placeholders: %w", err)
	}
	return nil
}
