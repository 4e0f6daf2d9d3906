package preference

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/metrics"
	"github.com/fetchr/discovery/internal/vecmath"
)

// Preference weights. Similarity to a liked product is amplified, similarity
// to a disliked one subtracts at face value.
const (
	likeWeight      = 10.0
	superlikeFactor = 3.0
	maybeFactor     = 0.5
)

// VectorSource returns stored dense embeddings for product ids. Missing ids
// are absent from the map, not an error.
type VectorSource interface {
	Embeddings(ctx context.Context, productIDs []string) (map[string][]float32, error)
}

// Reranker orders candidates by similarity to the user's recorded reactions.
type Reranker struct {
	vectors VectorSource
	// originalScoreMultiplier blends the retrieval score into the rerank
	// score. Zero discards retrieval order entirely.
	originalScoreMultiplier float64
	logger                  *zap.Logger
}

// NewReranker creates a rerank engine.
func NewReranker(vectors VectorSource, originalScoreMultiplier float64, logger *zap.Logger) *Reranker {
	return &Reranker{
		vectors:                 vectors,
		originalScoreMultiplier: originalScoreMultiplier,
		logger:                  logger,
	}
}

// Rerank rescores candidates against the request's preferences and sorts
// them by the new score, stably, descending. Candidates without a stored
// embedding score 0. Reranking is advisory: if embeddings cannot be fetched
// the original order is preserved with every candidate at score 1.
func (r *Reranker) Rerank(
	ctx context.Context,
	candidates []domain.Candidate,
	prefs []domain.ProductPreference,
	imagePrefs []domain.ImagePreference,
) []domain.Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	ids := make([]string, 0, len(candidates)+len(prefs))
	for _, c := range candidates {
		ids = append(ids, c.Product.ID)
	}
	scored := make([]domain.ProductPreference, 0, len(prefs))
	for _, p := range prefs {
		if p.Type == domain.PreferenceUnset {
			continue
		}
		scored = append(scored, p)
		ids = append(ids, p.ProductID)
	}
	images := make([]domain.ImagePreference, 0, len(imagePrefs))
	for _, p := range imagePrefs {
		if p.Type == domain.PreferenceUnset || len(p.Embedding) == 0 {
			continue
		}
		images = append(images, p)
	}

	metrics.RerankPreferencesUsed.WithLabelValues("product").Observe(float64(len(scored)))
	metrics.RerankPreferencesUsed.WithLabelValues("image").Observe(float64(len(images)))

	vectors, err := r.vectors.Embeddings(ctx, ids)
	if err != nil {
		r.logger.Warn("Rerank embeddings unavailable, keeping retrieval order", zap.Error(err))
		out := make([]domain.Candidate, len(candidates))
		for i, c := range candidates {
			c.Score = 1
			out[i] = c
		}
		return out
	}

	out := make([]domain.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c
		vec, ok := vectors[c.Product.ID]
		if !ok {
			out[i].Score = 0
			continue
		}

		score := c.Score * r.originalScoreMultiplier
		for _, p := range scored {
			pv, ok := vectors[p.ProductID]
			if !ok {
				continue
			}
			score += contribution(p.Type, vecmath.Cosine(vec, pv))
		}
		for _, p := range images {
			score += contribution(p.Type, vecmath.Cosine(vec, p.Embedding))
		}
		out[i].Score = score
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func contribution(t domain.PreferenceType, sim float64) float64 {
	switch t {
	case domain.PreferenceLike:
		return sim * likeWeight
	case domain.PreferenceSuperlike:
		return sim * likeWeight * superlikeFactor
	case domain.PreferenceMaybe:
		return sim * likeWeight * maybeFactor
	case domain.PreferenceDislike:
		return -sim
	default:
		return 0
	}
}
