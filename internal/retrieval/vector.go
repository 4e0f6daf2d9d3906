package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/embedding"
	"github.com/fetchr/discovery/internal/method"
	"github.com/fetchr/discovery/internal/vecmath"
)

// buildProductVector assembles the dense vector indexed for a product under
// one method. Strategies that need an image hard-fail on products without
// one; indexing a placeholder would poison the neighborhood.
func (e *Engine) buildProductVector(ctx context.Context, p domain.Product, cfg method.Config) ([]float32, error) {
	switch cfg.Strategy {
	case method.StrategyTextOnly:
		return e.embed.EmbedDocument(ctx, p.MarkdownDescription(), cfg.Composite)

	case method.StrategyFirstImage:
		return e.embedPrimaryImage(ctx, p)

	case method.StrategyImageTextBlend:
		img, err := e.embedPrimaryImage(ctx, p)
		if err != nil {
			return nil, err
		}
		text, err := e.embed.EmbedDocument(ctx, p.MarkdownDescription(), cfg.Composite)
		if err != nil {
			return nil, err
		}
		return vecmath.Blend(img, text, method.ImageWeight, method.TextWeight)

	case method.StrategyMultimodal:
		imageURL := p.PrimaryImageURL()
		if imageURL == "" {
			return nil, fmt.Errorf("product %s: %w", p.ID, domain.ErrNoImages)
		}
		img, err := e.images.Fetch(ctx, imageURL)
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		return e.embed.EmbedMultimodal(ctx, p.Title, img, cfg.Composite[0].OutputDim)

	case method.StrategyTextFirstImage:
		text, err := e.embed.EmbedDocument(ctx, p.MarkdownDescription(), cfg.Composite[:1])
		if err != nil {
			return nil, err
		}
		img, err := e.embedPrimaryImage(ctx, p)
		if err != nil {
			return nil, err
		}
		return concat(text, img), nil

	case method.StrategyTextImageMean:
		text, err := e.embed.EmbedDocument(ctx, p.MarkdownDescription(), cfg.Composite[:1])
		if err != nil {
			return nil, err
		}
		img, err := e.embedImageMean(ctx, p)
		if err != nil {
			return nil, err
		}
		return concat(text, img), nil

	case method.StrategyTextImageSemantic:
		return e.buildSemanticVector(ctx, p, cfg)

	default:
		return nil, fmt.Errorf("unhandled product vector strategy %d", cfg.Strategy)
	}
}

// buildSemanticVector extends text+image with per-attribute components. The
// attribute components carry the composite's configured multiplier, so a
// masked registry zeroes them while keeping the index layout.
func (e *Engine) buildSemanticVector(ctx context.Context, p domain.Product, cfg method.Config) ([]float32, error) {
	if len(cfg.Composite) != 5 {
		return nil, fmt.Errorf("semantic composite must have 5 components, got %d", len(cfg.Composite))
	}

	text, err := e.embed.EmbedDocument(ctx, p.MarkdownDescription(), cfg.Composite[:1])
	if err != nil {
		return nil, err
	}
	img, err := e.embedPrimaryImage(ctx, p)
	if err != nil {
		return nil, err
	}

	attrs := []string{
		strings.Join(p.Colors, ", "),
		p.Style,
		strings.Join(p.Materials, ", "),
	}
	vec := concat(text, img)
	for i, attr := range attrs {
		spec := cfg.Composite[2+i]
		part, err := e.embed.EmbedDocument(ctx, orEmpty(attr), []embedding.ModelSpec{spec})
		if err != nil {
			return nil, fmt.Errorf("embed attribute %d: %w", i, err)
		}
		vec = concat(vec, part)
	}
	return vec, nil
}

func (e *Engine) embedPrimaryImage(ctx context.Context, p domain.Product) ([]float32, error) {
	imageURL := p.PrimaryImageURL()
	if imageURL == "" {
		return nil, fmt.Errorf("product %s: %w", p.ID, domain.ErrNoImages)
	}
	img, err := e.images.Fetch(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	return e.embed.EmbedImage(ctx, img)
}

// embedImageMean averages the embeddings of every product image.
func (e *Engine) embedImageMean(ctx context.Context, p domain.Product) ([]float32, error) {
	urls := p.CompressedImageURLs
	if len(urls) == 0 {
		return nil, fmt.Errorf("product %s: %w", p.ID, domain.ErrNoImages)
	}

	vecs := make([][]float32, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			img, err := e.images.Fetch(gctx, u)
			if err != nil {
				return fmt.Errorf("fetch image %d: %w", i, err)
			}
			v, err := e.embed.EmbedImage(gctx, img)
			if err != nil {
				return fmt.Errorf("embed image %d: %w", i, err)
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecmath.Mean(vecs)
}

// productMetadata is the index-side projection of a product: the filterable
// attributes plus what the metadata updater needs to detect staleness.
func productMetadata(p domain.Product) map[string]any {
	return map[string]any{
		"product_id":        p.ID,
		"brand_id":          p.BrandID,
		"sub_brand_id":      p.SubBrandID,
		"title":             p.Title,
		"price":             p.Price,
		"original_price":    p.OriginalPrice,
		"gender":            string(p.Gender),
		"category":          string(p.Category),
		"fit":               string(p.Fit),
		"style":             p.Style,
		"colors":            p.Colors,
		"materials":         p.Materials,
		"is_kid_product":    p.IsKidProduct,
		"has_s3_image":      p.HasRenderableImage(),
		"primary_image_url": p.PrimaryImageURL(),
	}
}

func concat(parts ...[]float32) []float32 {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]float32, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func orEmpty(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
