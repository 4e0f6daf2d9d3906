package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/index"
	"github.com/fetchr/discovery/internal/method"
)

// BatchStats summarizes one batch indexing run.
type BatchStats struct {
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// BatchInsert walks the whole catalog in pages and indexes every product for
// the method. Individual product failures are counted, not fatal.
func (e *Engine) BatchInsert(ctx context.Context, m method.Method, pageSize, concurrency int) (BatchStats, error) {
	if pageSize <= 0 {
		pageSize = 250
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	start := time.Now()
	var stats BatchStats
	var mu sync.Mutex

	for offset := 0; ; offset += pageSize {
		products, err := e.catalog.ProductsPage(ctx, offset, pageSize)
		if err != nil {
			return stats, fmt.Errorf("load catalog page at %d: %w", offset, err)
		}
		if len(products) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, p := range products {
			g.Go(func() error {
				ok, err := e.upsertProduct(gctx, p, m, (*domain.Product).SparsePassage)
				mu.Lock()
				stats.Total++
				if ok {
					stats.Succeeded++
				} else {
					stats.Failed++
				}
				mu.Unlock()
				if err != nil {
					e.logger.Warn("Batch insert skipped product",
						zap.String("product_id", p.ID),
						zap.Error(err))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		e.logger.Info("Batch insert page done",
			zap.String("method", string(m)),
			zap.Int("offset", offset),
			zap.Int("indexed", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Duration("elapsed", time.Since(start)))
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// UpdateMetadata refreshes the index-side metadata for products. A product
// is fully re-embedded only when its primary image changed since it was
// indexed; otherwise the stored dense and sparse vectors are reused verbatim
// and only the metadata is rewritten.
func (e *Engine) UpdateMetadata(ctx context.Context, m method.Method, productIDs []string) (BatchStats, error) {
	start := time.Now()
	var stats BatchStats

	cfg, err := e.methods.Lookup(m)
	if err != nil {
		return stats, err
	}

	products, err := e.catalog.ProductsByIDs(ctx, productIDs)
	if err != nil {
		return stats, fmt.Errorf("load %d products: %w", len(productIDs), err)
	}

	idx, err := e.indexes.Index(ctx, cfg.Index)
	if err != nil {
		return stats, err
	}

	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	stored, err := idx.Fetch(ctx, cfg.Namespace, ids)
	if err != nil {
		return stats, fmt.Errorf("fetch stored vectors: %w", err)
	}

	for _, p := range products {
		stats.Total++
		e.attachBrandNames(ctx, &p)

		existing, ok := stored[p.ID]
		if !ok || imageChanged(existing.Metadata, p.PrimaryImageURL()) {
			// Unindexed or stale image: rebuild the vector from scratch.
			if _, err := e.UpsertProduct(ctx, p, m); err != nil {
				stats.Failed++
				e.logger.Warn("Metadata update re-embed failed",
					zap.String("product_id", p.ID), zap.Error(err))
				continue
			}
			stats.Succeeded++
			continue
		}

		err = idx.Upsert(ctx, cfg.Namespace, []index.Vector{{
			ID:       p.ID,
			Values:   existing.Values,
			Sparse:   existing.Sparse,
			Metadata: productMetadata(p),
		}})
		if err != nil {
			stats.Failed++
			e.logger.Warn("Metadata update upsert failed",
				zap.String("product_id", p.ID), zap.Error(err))
			continue
		}
		stats.Succeeded++
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func imageChanged(storedMetadata map[string]any, currentURL string) bool {
	storedURL, _ := storedMetadata["primary_image_url"].(string)
	return storedURL != currentURL
}
