// Package retrieval embeds queries and products, talks to the vector
// indexes, and turns matches back into catalog products. It implements one
// method at a time; fanning out across queries is the search package's job.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/catalog"
	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/embedding"
	"github.com/fetchr/discovery/internal/imagestore"
	"github.com/fetchr/discovery/internal/index"
	"github.com/fetchr/discovery/internal/method"
	"github.com/fetchr/discovery/internal/metrics"
	"github.com/fetchr/discovery/internal/sparse"
	"github.com/fetchr/discovery/internal/vecmath"
)

const (
	upsertAttempts      = 3
	upsertRetryInterval = 10 * time.Millisecond
)

// Embedder is the slice of the embedding service the engine consumes.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string, specs []embedding.ModelSpec) ([]float32, error)
	EmbedDocument(ctx context.Context, text string, specs []embedding.ModelSpec) ([]float32, error)
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
	EmbedMultimodal(ctx context.Context, text string, image []byte, outputDim int) ([]float32, error)
}

// Engine executes single-method retrieval and indexing.
type Engine struct {
	methods *method.Registry
	embed   Embedder
	sparse  sparse.Encoder
	indexes index.Provider
	catalog catalog.Store
	names   catalog.NameSource
	images  imagestore.Fetcher
	logger  *zap.Logger
}

// Config holds the engine dependencies.
type Config struct {
	Methods *method.Registry
	Embed   Embedder
	Sparse  sparse.Encoder
	Indexes index.Provider
	Catalog catalog.Store
	Names   catalog.NameSource
	Images  imagestore.Fetcher
	Logger  *zap.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(cfg *Config) *Engine {
	return &Engine{
		methods: cfg.Methods,
		embed:   cfg.Embed,
		sparse:  cfg.Sparse,
		indexes: cfg.Indexes,
		catalog: cfg.Catalog,
		names:   cfg.Names,
		images:  cfg.Images,
		logger:  cfg.Logger,
	}
}

// SearchByText retrieves candidates for one query. No matches is an empty
// slice, not an error.
func (e *Engine) SearchByText(ctx context.Context, q domain.SearchQuery) ([]domain.Candidate, error) {
	m, err := e.methods.Parse(q.Method)
	if err != nil {
		return nil, err
	}
	cfg, err := e.methods.Lookup(m)
	if err != nil {
		return nil, err
	}

	dense, err := e.embed.EmbedQuery(ctx, q.Query, cfg.Composite)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var sp vecmath.Sparse
	if cfg.Sparse {
		sp, err = e.sparse.Encode(ctx, q.Query, sparse.InputQuery)
		if err != nil {
			return nil, fmt.Errorf("sparse encode query: %w", err)
		}
	}

	dense, sp, err = vecmath.HybridScore(dense, sp, cfg.Alpha)
	if err != nil {
		return nil, err
	}

	idx, err := e.indexes.Index(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}

	matches, err := idx.Query(ctx, cfg.Namespace, index.Query{
		Values: dense,
		Sparse: sp,
		TopK:   q.EffectiveTopK(),
		Filter: queryFilter(q),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", cfg.Index, cfg.Namespace, err)
	}

	return e.toCandidates(ctx, matches, q.Query)
}

// SearchBySimilarProduct retrieves candidates near a product's stored vector.
// The product itself is excluded from the results.
func (e *Engine) SearchBySimilarProduct(ctx context.Context, productID string, q domain.SearchQuery) ([]domain.Candidate, error) {
	m, err := e.methods.Parse(q.Method)
	if err != nil {
		return nil, err
	}
	cfg, err := e.methods.Lookup(m)
	if err != nil {
		return nil, err
	}

	idx, err := e.indexes.Index(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}

	stored, err := idx.Fetch(ctx, cfg.Namespace, []string{productID})
	if err != nil {
		return nil, fmt.Errorf("fetch vector for %s: %w", productID, err)
	}
	vec, ok := stored[productID]
	if !ok || len(vec.Values) == 0 {
		return nil, fmt.Errorf("product %s in %s/%s: %w", productID, cfg.Index, cfg.Namespace, domain.ErrNoEmbedding)
	}

	topK := q.EffectiveTopK()
	matches, err := idx.Query(ctx, cfg.Namespace, index.Query{
		Values: vec.Values,
		TopK:   topK + 1, // the product matches itself
		Filter: queryFilter(q),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", cfg.Index, cfg.Namespace, err)
	}

	kept := matches[:0:0]
	for _, match := range matches {
		if match.ID == productID {
			continue
		}
		kept = append(kept, match)
	}
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return e.toCandidates(ctx, kept, "")
}

// EmbedText computes the method's composite query embedding for arbitrary
// text, without touching an index. Used for reference-image preference
// ingestion and offline tooling.
func (e *Engine) EmbedText(ctx context.Context, text string, m method.Method) ([]float32, error) {
	cfg, err := e.methods.Lookup(m)
	if err != nil {
		return nil, err
	}
	return e.embed.EmbedQuery(ctx, text, cfg.Composite)
}

// Embeddings returns the stored dense vectors for product ids in the
// method's namespace. Missing ids are absent from the map.
func (e *Engine) Embeddings(ctx context.Context, m method.Method, productIDs []string) (map[string][]float32, error) {
	cfg, err := e.methods.Lookup(m)
	if err != nil {
		return nil, err
	}
	idx, err := e.indexes.Index(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}

	stored, err := idx.Fetch(ctx, cfg.Namespace, productIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch %d vectors: %w", len(productIDs), err)
	}

	out := make(map[string][]float32, len(stored))
	for id, v := range stored {
		if len(v.Values) > 0 {
			out[id] = v.Values
		}
	}
	return out, nil
}

// DeleteAll removes every vector in the method's namespace.
func (e *Engine) DeleteAll(ctx context.Context, m method.Method) error {
	cfg, err := e.methods.Lookup(m)
	if err != nil {
		return err
	}
	idx, err := e.indexes.Index(ctx, cfg.Index)
	if err != nil {
		return err
	}
	if err := idx.DeleteNamespace(ctx, cfg.Namespace); err != nil {
		return err
	}
	e.logger.Info("Deleted method namespace",
		zap.String("method", string(m)),
		zap.String("index", cfg.Index),
		zap.String("namespace", cfg.Namespace))
	return nil
}

// toCandidates resolves match ids through the catalog, preserving match
// order and dropping ids with no catalog record.
func (e *Engine) toCandidates(ctx context.Context, matches []index.Match, query string) ([]domain.Candidate, error) {
	if len(matches) == 0 {
		return []domain.Candidate{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}

	products, err := e.catalog.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve %d products: %w", len(ids), err)
	}

	byID := make(map[string]*domain.Product, len(products))
	for i := range products {
		e.attachBrandNames(ctx, &products[i])
		byID[products[i].ID] = &products[i]
	}

	out := make([]domain.Candidate, 0, len(matches))
	for _, m := range matches {
		p, ok := byID[m.ID]
		if !ok {
			continue
		}
		out = append(out, domain.Candidate{Product: p, Score: m.Score, Query: query})
	}
	return out, nil
}

func (e *Engine) attachBrandNames(ctx context.Context, p *domain.Product) {
	if p.BrandName == "" && p.BrandID != "" {
		name, err := e.names.BrandName(ctx, p.BrandID)
		if err != nil {
			e.logger.Warn("Brand name lookup failed", zap.String("brand_id", p.BrandID), zap.Error(err))
		} else {
			p.BrandName = name
		}
	}
	if p.SubBrandName == "" && p.SubBrandID != "" {
		name, err := e.names.SubBrandName(ctx, p.SubBrandID)
		if err != nil {
			e.logger.Warn("Sub-brand name lookup failed", zap.String("sub_brand_id", p.SubBrandID), zap.Error(err))
		} else {
			p.SubBrandName = name
		}
	}
}

// queryFilter translates the query's attribute filters into the index filter
// grammar. An allowlist replaces a denylist when both are present.
func queryFilter(q domain.SearchQuery) index.Filter {
	filters := []index.Filter{}

	if q.Gender != domain.GenderUnspecified {
		filters = append(filters, index.Eq("gender", string(q.Gender)))
	}
	if q.Category != domain.CategoryUnspecified {
		filters = append(filters, index.Eq("category", string(q.Category)))
	}
	if q.MinPrice > 0 || q.MaxPrice > 0 {
		var minP, maxP *float64
		if q.MinPrice > 0 {
			minP = &q.MinPrice
		}
		if q.MaxPrice > 0 {
			maxP = &q.MaxPrice
		}
		filters = append(filters, index.Range("price", minP, maxP))
	}
	if len(q.BrandIDs) > 0 {
		filters = append(filters, index.In("brand_id", q.BrandIDs))
	}

	switch {
	case len(q.ProductIDAllowlist) > 0:
		filters = append(filters, index.In("product_id", q.ProductIDAllowlist))
	case len(q.ProductIDDenylist) > 0:
		filters = append(filters, index.NotIn("product_id", q.ProductIDDenylist))
	}

	return index.And(filters...)
}

// UpsertProduct indexes one product for one method, retrying transient
// failures. The bool reports whether the product was indexed. The sparse
// passage is the full generated description; batch inserts use the shorter
// one-line passage instead.
func (e *Engine) UpsertProduct(ctx context.Context, p domain.Product, m method.Method) (bool, error) {
	return e.upsertProduct(ctx, p, m, (*domain.Product).FullGeneratedDescription)
}

func (e *Engine) upsertProduct(ctx context.Context, p domain.Product, m method.Method, passage func(*domain.Product) string) (bool, error) {
	cfg, err := e.methods.Lookup(m)
	if err != nil {
		return false, err
	}

	e.attachBrandNames(ctx, &p)
	text := passage(&p)

	var lastErr error
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(upsertRetryInterval):
			}
		}

		if lastErr = e.upsertOnce(ctx, p, cfg, text); lastErr == nil {
			metrics.IndexUpsertsTotal.WithLabelValues(string(m), "success").Inc()
			return true, nil
		}
		if errors.Is(lastErr, domain.ErrNoImages) {
			break // retrying will not grow images
		}
		e.logger.Warn("Product upsert attempt failed",
			zap.String("product_id", p.ID),
			zap.String("method", string(m)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	metrics.IndexUpsertsTotal.WithLabelValues(string(m), "error").Inc()
	return false, fmt.Errorf("upsert product %s for %s: %w", p.ID, m, lastErr)
}

func (e *Engine) upsertOnce(ctx context.Context, p domain.Product, cfg method.Config, passage string) error {
	dense, err := e.buildProductVector(ctx, p, cfg)
	if err != nil {
		return err
	}

	sp, err := e.sparse.Encode(ctx, passage, sparse.InputPassage)
	if err != nil {
		return fmt.Errorf("sparse encode passage: %w", err)
	}

	idx, err := e.indexes.Index(ctx, cfg.Index)
	if err != nil {
		return err
	}

	return idx.Upsert(ctx, cfg.Namespace, []index.Vector{{
		ID:       p.ID,
		Values:   dense,
		Sparse:   sp,
		Metadata: productMetadata(p),
	}})
}

// UpsertAllMethods indexes a product under every registered method. It fails
// only when no method succeeds; partial failures are logged and reported in
// the returned method list.
func (e *Engine) UpsertAllMethods(ctx context.Context, p domain.Product) ([]method.Method, error) {
	var succeeded []method.Method
	for _, m := range e.methods.All() {
		ok, err := e.UpsertProduct(ctx, p, m)
		if err != nil {
			e.logger.Warn("Method upsert failed",
				zap.String("product_id", p.ID),
				zap.String("method", string(m)),
				zap.Error(err))
			continue
		}
		if ok {
			succeeded = append(succeeded, m)
		}
	}
	if len(succeeded) == 0 {
		return nil, fmt.Errorf("product %s: %w", p.ID, domain.ErrAllMethodsFailed)
	}
	return succeeded, nil
}
