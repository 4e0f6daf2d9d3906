// Package embedding assembles composite embeddings from multiple backend
// models. A composite is an ordered list of ModelSpec components whose
// vectors are computed in parallel and concatenated in declared order.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/metrics"
	"github.com/fetchr/discovery/internal/vecmath"
)

// InputType distinguishes search queries from indexed documents for backends
// that embed the two asymmetrically.
type InputType string

const (
	InputQuery    InputType = "query"
	InputDocument InputType = "document"
)

// TextEmbedder embeds a single text. Backends that embed queries and
// documents identically ignore the input type.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string, outputDim int, input InputType) ([]float32, error)
}

// ImageEmbedder embeds raw image bytes.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// MultimodalEmbedder embeds text and an optional image jointly.
type MultimodalEmbedder interface {
	EmbedMultimodal(ctx context.Context, text string, image []byte, outputDim int) ([]float32, error)
}

// Service routes composite components to their backend and concatenates the
// results. Text composites are cached by (input, full composite spec); image
// embeddings by content hash.
type Service struct {
	siglipText  TextEmbedder
	siglipImage ImageEmbedder
	openai      TextEmbedder
	voyage      TextEmbedder
	voyageMM    MultimodalEmbedder

	textCache  *lru.Cache[string, []float32]
	imageCache *lru.Cache[string, []float32]
	sem        *semaphore.Weighted
	logger     *zap.Logger
}

// Config holds the service dependencies.
type Config struct {
	SiglipText  TextEmbedder
	SiglipImage ImageEmbedder
	OpenAI      TextEmbedder
	Voyage      TextEmbedder
	VoyageMM    MultimodalEmbedder

	CacheSize   int
	Concurrency int
	Logger      *zap.Logger
}

// NewService creates the composite embedding service.
func NewService(cfg *Config) (*Service, error) {
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	textCache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create text cache: %w", err)
	}
	imageCache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create image cache: %w", err)
	}

	return &Service{
		siglipText:  cfg.SiglipText,
		siglipImage: cfg.SiglipImage,
		openai:      cfg.OpenAI,
		voyage:      cfg.Voyage,
		voyageMM:    cfg.VoyageMM,
		textCache:   textCache,
		imageCache:  imageCache,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      cfg.Logger,
	}, nil
}

// EmbedQuery builds the composite embedding for a search query.
func (s *Service) EmbedQuery(ctx context.Context, text string, specs []ModelSpec) ([]float32, error) {
	return s.embedComposite(ctx, text, specs, InputQuery)
}

// EmbedDocument builds the composite embedding for indexed product text.
func (s *Service) EmbedDocument(ctx context.Context, text string, specs []ModelSpec) ([]float32, error) {
	return s.embedComposite(ctx, text, specs, InputDocument)
}

// BatchEmbedQueries embeds many queries against one composite spec, bounded
// by the service's concurrency limit. Results align with the input order.
func (s *Service) BatchEmbedQueries(ctx context.Context, texts []string, specs []ModelSpec) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("acquire embed slot: %w", err)
			}
			defer s.sem.Release(1)

			vec, err := s.embedComposite(gctx, text, specs, InputQuery)
			if err != nil {
				return fmt.Errorf("embed query %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedImage embeds raw image bytes in the SigLIP space, cached by content.
func (s *Service) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	key := imageKey(image)
	if vec, ok := s.imageCache.Get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	vec, err := s.siglipImage.EmbedImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embed image: %w", err)
	}
	s.imageCache.Add(key, vec)
	return vec, nil
}

// EmbedMultimodal embeds text plus an optional image jointly.
func (s *Service) EmbedMultimodal(ctx context.Context, text string, image []byte, outputDim int) ([]float32, error) {
	vec, err := s.voyageMM.EmbedMultimodal(ctx, text, image, outputDim)
	if err != nil {
		return nil, fmt.Errorf("embed multimodal: %w", err)
	}
	return vec, nil
}

// embedComposite computes every component in parallel and concatenates them
// in declared order. A multiplier of 0 keeps the component's dimensions but
// zeroes its values, preserving the index layout.
func (s *Service) embedComposite(ctx context.Context, text string, specs []ModelSpec, input InputType) ([]float32, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("empty composite spec")
	}

	key := compositeKey(text, specs, input)
	if vec, ok := s.textCache.Get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	parts := make([][]float32, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			vec, err := s.embedComponent(gctx, text, spec, input)
			if err != nil {
				return err
			}
			parts[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]float32, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}

	s.textCache.Add(key, out)
	return out, nil
}

func (s *Service) embedComponent(ctx context.Context, text string, spec ModelSpec, input InputType) ([]float32, error) {
	var (
		vec []float32
		err error
	)
	switch spec.Model {
	case ModelSiglip:
		vec, err = s.siglipText.EmbedText(ctx, text, spec.OutputDim, input)
	case ModelOpenAILarge:
		vec, err = s.openai.EmbedText(ctx, text, spec.OutputDim, input)
	case ModelVoyage3Large:
		vec, err = s.voyage.EmbedText(ctx, text, spec.OutputDim, input)
	case ModelVoyageMultimodal:
		vec, err = s.voyageMM.EmbedMultimodal(ctx, text, nil, spec.OutputDim)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModel, spec.Model)
	}
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", spec.Model, err)
	}

	if spec.Multiplier != 1 {
		vec = vecmath.Scale(vec, spec.Multiplier)
	}
	return vec, nil
}

func compositeKey(text string, specs []ModelSpec, input InputType) string {
	h := sha256.Sum256([]byte(string(input) + "\x00" + SpecKey(specs) + "\x00" + text))
	return hex.EncodeToString(h[:])
}

func imageKey(image []byte) string {
	h := sha256.Sum256(image)
	return hex.EncodeToString(h[:])
}
