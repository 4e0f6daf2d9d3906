// Package search runs the multi-query discovery pipeline: parallel retrieval
// per query, round-robin interleave, dedup, eligibility filters, preference
// rerank, and preference placeholder bookkeeping.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/method"
	"github.com/fetchr/discovery/internal/metrics"
	"github.com/fetchr/discovery/internal/preference"
)

// Retriever is the slice of the retrieval engine the orchestrator consumes.
type Retriever interface {
	SearchByText(ctx context.Context, q domain.SearchQuery) ([]domain.Candidate, error)
	Embeddings(ctx context.Context, m method.Method, productIDs []string) (map[string][]float32, error)
}

// Request describes one discovery call: the queries to fan out plus the
// shared method, size, and attribute filters. The embedded SearchQuery's
// Query field is ignored; each entry of Queries takes its place per fan-out.
type Request struct {
	domain.SearchQuery

	UserID    string
	RequestID string
	Queries   []string

	// OnePerQuery collapses to the single best candidate per originating
	// query before rerank, forcing diversity across style queries.
	OnePerQuery bool
}

// Options tunes the pipeline.
type Options struct {
	// OverfetchFactor multiplies topK for per-query retrieval to leave room
	// for dedup and filter loss. Zero means 5.
	OverfetchFactor int
	// QueryConcurrency caps in-flight per-query retrieval calls. Zero means 4.
	QueryConcurrency int
	// OriginalScoreMultiplier blends retrieval scores into rerank scores.
	OriginalScoreMultiplier float64
}

// Orchestrator is the top-level discovery entry point.
type Orchestrator struct {
	methods   *method.Registry
	retriever Retriever
	prefs     preference.Store
	opts      Options
	logger    *zap.Logger
}

// NewOrchestrator creates a discovery orchestrator. prefs may be nil, which
// disables rerank preference loading and placeholder bookkeeping.
func NewOrchestrator(methods *method.Registry, retriever Retriever, prefs preference.Store, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.OverfetchFactor <= 0 {
		opts.OverfetchFactor = 5
	}
	if opts.QueryConcurrency <= 0 {
		opts.QueryConcurrency = 4
	}
	return &Orchestrator{
		methods:   methods,
		retriever: retriever,
		prefs:     prefs,
		opts:      opts,
		logger:    logger,
	}
}

// Search runs one query through retrieval without the discovery pipeline.
func (o *Orchestrator) Search(ctx context.Context, q domain.SearchQuery) ([]domain.Candidate, error) {
	start := time.Now()
	out, err := o.retriever.SearchByText(ctx, q)
	o.observe(q.Method, start, len(out), err)
	return out, err
}

// Discover fans the request's queries out to retrieval in parallel and runs
// the merged results through the full pipeline. A query whose retrieval fails
// is logged and skipped; Discover errors only when the request itself is
// unusable. All queries returning nothing is an empty result, not an error.
func (o *Orchestrator) Discover(ctx context.Context, req Request) ([]domain.Candidate, error) {
	start := time.Now()
	out, err := o.discover(ctx, req)
	o.observe(req.Method, start, len(out), err)
	return out, err
}

func (o *Orchestrator) discover(ctx context.Context, req Request) ([]domain.Candidate, error) {
	m, err := o.methods.Parse(req.Method)
	if err != nil {
		return nil, err
	}

	topK := req.EffectiveTopK()
	perQuery := make([][]domain.Candidate, len(req.Queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.QueryConcurrency)
	for i, query := range req.Queries {
		g.Go(func() error {
			q := req.SearchQuery
			q.Query = query
			q.TopK = topK * o.opts.OverfetchFactor

			candidates, err := o.retriever.SearchByText(gctx, q)
			if err != nil {
				o.logger.Warn("Query retrieval failed, continuing without it",
					zap.String("query", query),
					zap.Error(err))
				return nil
			}
			perQuery[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := domain.DedupCandidates(domain.InterleaveCandidates(perQuery))
	merged = domain.FilterAdult(merged)
	if req.OnePerQuery {
		merged = collapseOnePerQuery(merged)
	}

	merged = o.rerank(ctx, m, req.RequestID, merged)

	merged = domain.FilterRenderable(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}

	if err := o.recordShown(ctx, req, merged); err != nil {
		o.logger.Error("Preference placeholder write failed",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
	}
	return merged, nil
}

// rerank loads the request's accumulated preferences and rescores the
// candidates. Preference loading failure keeps the interleaved order.
func (o *Orchestrator) rerank(ctx context.Context, m method.Method, requestID string, candidates []domain.Candidate) []domain.Candidate {
	if o.prefs == nil || len(candidates) == 0 {
		return candidates
	}

	var prodPrefs []domain.ProductPreference
	var imagePrefs []domain.ImagePreference
	if requestID != "" {
		var err error
		prodPrefs, err = o.prefs.ProductPreferences(ctx, requestID)
		if err != nil {
			o.logger.Warn("Product preference load failed, keeping retrieval order",
				zap.String("request_id", requestID), zap.Error(err))
			return candidates
		}
		imagePrefs, err = o.prefs.ImagePreferences(ctx, requestID)
		if err != nil {
			o.logger.Warn("Image preference load failed, keeping retrieval order",
				zap.String("request_id", requestID), zap.Error(err))
			return candidates
		}
	}

	reranker := preference.NewReranker(
		methodVectors{retriever: o.retriever, method: m},
		o.opts.OriginalScoreMultiplier,
		o.logger,
	)
	return reranker.Rerank(ctx, candidates, prodPrefs, imagePrefs)
}

// recordShown persists unset-preference placeholders for every returned
// candidate at the request's next cohort, so later swipes can be attributed.
// The write completes before results are returned.
func (o *Orchestrator) recordShown(ctx context.Context, req Request, shown []domain.Candidate) error {
	if o.prefs == nil || req.UserID == "" || req.RequestID == "" || len(shown) == 0 {
		return nil
	}
	items := make([]preference.Placeholder, len(shown))
	for i, c := range shown {
		items[i] = preference.Placeholder{ProductID: c.Product.ID, Query: c.Query}
	}
	if err := o.prefs.InsertPlaceholders(ctx, req.UserID, req.RequestID, items); err != nil {
		return fmt.Errorf("insert %d placeholders: %w", len(items), err)
	}
	return nil
}

// collapseOnePerQuery keeps the first (highest-priority) candidate for each
// originating query.
func collapseOnePerQuery(in []domain.Candidate) []domain.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, c := range in {
		if _, ok := seen[c.Query]; ok {
			continue
		}
		seen[c.Query] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) observe(m string, start time.Time, returned int, err error) {
	if m == "" {
		m = string(method.Default())
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues(m, status).Inc()
	metrics.SearchRequestDuration.WithLabelValues(m).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.SearchCandidatesReturned.WithLabelValues(m).Observe(float64(returned))
	}
}

// methodVectors binds the retriever's stored-vector lookup to one method so
// it satisfies the reranker's vector source contract.
type methodVectors struct {
	retriever Retriever
	method    method.Method
}

func (v methodVectors) Embeddings(ctx context.Context, productIDs []string) (map[string][]float32, error) {
	return v.retriever.Embeddings(ctx, v.method, productIDs)
}
