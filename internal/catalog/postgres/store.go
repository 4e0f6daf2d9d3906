// Package postgres implements the catalog contract over the product database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/catalog"
	"github.com/fetchr/discovery/internal/domain"
)

// Compile-time check: Store implements catalog.Store.
var _ catalog.Store = (*Store)(nil)

// defaultPageSize caps one IN-clause lookup batch.
const defaultPageSize = 250

// Store reads products and brands via sqlx.
type Store struct {
	db       *sqlx.DB
	pageSize int
	logger   *zap.Logger
}

// Config holds database settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	PageSize     int
	Logger       *zap.Logger
}

// NewStore connects to the catalog database.
func NewStore(cfg *Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to catalog db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Store{db: db, pageSize: pageSize, logger: cfg.Logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection pool for stores sharing the same database.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

type productRow struct {
	ID                   string          `db:"id"`
	BrandID              string          `db:"brand_id"`
	SubBrandID           sql.NullString  `db:"sub_brand_id"`
	Title                string          `db:"title"`
	URL                  string          `db:"url"`
	Price                float64         `db:"price"`
	OriginalPrice        sql.NullFloat64 `db:"original_price"`
	Gender               sql.NullString  `db:"gender"`
	Category             sql.NullString  `db:"category"`
	Fit                  sql.NullString  `db:"fit"`
	Style                sql.NullString  `db:"style"`
	Description          sql.NullString  `db:"description"`
	GeneratedDescription sql.NullString  `db:"generated_description"`
	Details              sql.NullString  `db:"details"`
	Colors               pq.StringArray  `db:"colors"`
	Materials            pq.StringArray  `db:"materials"`
	Sizes                pq.StringArray  `db:"sizes"`
	ImageURLs            pq.StringArray  `db:"image_urls"`
	S3ImageURLs          pq.StringArray  `db:"s3_image_urls"`
	CompressedImageURLs  pq.StringArray  `db:"compressed_image_urls"`
	HighresWebpURLs      pq.StringArray  `db:"highres_webp_urls"`
	IsKidProduct         bool            `db:"is_kid_product"`
	ContentQualityCheck  sql.NullString  `db:"content_quality_check"`
	PipelineRunID        sql.NullString  `db:"pipeline_run_id"`
}

const productColumns = `
	id, brand_id, sub_brand_id, title, url, price, original_price,
	gender, category, fit, style,
	description, generated_description, details,
	colors, materials, sizes,
	image_urls, s3_image_urls, compressed_image_urls, highres_webp_urls,
	is_kid_product, content_quality_check, pipeline_run_id`

// Product returns one product or domain.ErrProductNotFound.
func (s *Store) Product(ctx context.Context, id string) (domain.Product, error) {
	var row productRow
	query := `SELECT` + productColumns + ` FROM products WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
		}
		return domain.Product{}, fmt.Errorf("select product %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// ProductsByIDs returns the products that exist among ids, preserving the
// input order. Lookups are chunked to keep IN clauses bounded.
func (s *Store) ProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]domain.Product, len(ids))
	for _, chunk := range chunkIDs(ids, s.pageSize) {
		var rows []productRow
		query := `SELECT` + productColumns + ` FROM products WHERE id = ANY($1)`
		if err := s.db.SelectContext(ctx, &rows, query, pq.Array(chunk)); err != nil {
			return nil, fmt.Errorf("select %d products: %w", len(chunk), err)
		}
		for _, row := range rows {
			byID[row.ID] = row.toDomain()
		}
	}

	out := make([]domain.Product, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
			delete(byID, id)
		}
	}
	return out, nil
}

// ProductsPage returns one page of the catalog ordered by id.
func (s *Store) ProductsPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = s.pageSize
	}

	var rows []productRow
	query := `SELECT` + productColumns + ` FROM products ORDER BY id OFFSET $1 LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, query, offset, limit); err != nil {
		return nil, fmt.Errorf("select products page offset=%d: %w", offset, err)
	}

	out := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// BrandName returns the brand display name.
func (s *Store) BrandName(ctx context.Context, brandID string) (string, error) {
	var name string
	if err := s.db.GetContext(ctx, &name, `SELECT name FROM brands WHERE id = $1`, brandID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("brand %s: %w", brandID, domain.ErrBrandNotFound)
		}
		return "", fmt.Errorf("select brand %s: %w", brandID, err)
	}
	return name, nil
}

// SubBrandName returns the sub-brand display name.
func (s *Store) SubBrandName(ctx context.Context, subBrandID string) (string, error) {
	var name string
	if err := s.db.GetContext(ctx, &name, `SELECT name FROM sub_brands WHERE id = $1`, subBrandID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("sub-brand %s: %w", subBrandID, domain.ErrBrandNotFound)
		}
		return "", fmt.Errorf("select sub-brand %s: %w", subBrandID, err)
	}
	return name, nil
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:                   r.ID,
		BrandID:              r.BrandID,
		SubBrandID:           r.SubBrandID.String,
		Title:                r.Title,
		URL:                  r.URL,
		Price:                r.Price,
		OriginalPrice:        r.OriginalPrice.Float64,
		Gender:               domain.Gender(r.Gender.String),
		Category:             domain.Category(r.Category.String),
		Fit:                  domain.Fit(r.Fit.String),
		Style:                r.Style.String,
		Description:          r.Description.String,
		GeneratedDescription: r.GeneratedDescription.String,
		Details:              r.Details.String,
		Colors:               r.Colors,
		Materials:            r.Materials,
		Sizes:                r.Sizes,
		ImageURLs:            r.ImageURLs,
		S3ImageURLs:          r.S3ImageURLs,
		CompressedImageURLs:  r.CompressedImageURLs,
		HighresWebpURLs:      r.HighresWebpURLs,
		IsKidProduct:         r.IsKidProduct,
		Scraping: domain.ScrapingMetadata{
			ContentQualityCheck: r.ContentQualityCheck.String,
			PipelineRunID:       r.PipelineRunID.String,
		},
	}
}

func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = defaultPageSize
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
