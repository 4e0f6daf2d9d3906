// Package method maps search-method identifiers to their retrieval
// configuration: the composite embedding spec used for query text, the index
// and namespace the method searches, the hybrid alpha, and the strategy used
// to build product vectors at indexing time.
package method

import (
	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/embedding"
)

// Method identifies one retrieval configuration.
type Method string

const (
	Image                   Method = "image"
	Text                    Method = "text"
	ImageTextAverage        Method = "image_text_average"
	VoyageText              Method = "voyage_text"
	OpenAIText              Method = "openai_text"
	VoyageMultimodal        Method = "voyage_multimodal"
	VoyageMultimodalFull    Method = "voyage_multimodal_full"
	VoyageTextSiglipImage   Method = "voyage_text_siglip_image"
	TextImageAverage        Method = "voyage_text_siglip_image_average"
	TextImageAverageSparse  Method = "voyage_text_siglip_image_average_sparse"
	SparseClean             Method = "voyage_text_siglip_image_average_sparse_clean"
	SparseCleanNoImage      Method = "voyage_text_siglip_image_average_sparse_clean_no_image"
	SemanticMetadataMasking Method = "semantic_metadata_masking"
)

// Strategy selects how a product's dense vector is assembled at indexing time.
type Strategy int

const (
	// StrategyTextOnly embeds the product's markdown description with the
	// method's composite.
	StrategyTextOnly Strategy = iota
	// StrategyFirstImage embeds the primary image with SigLIP.
	StrategyFirstImage
	// StrategyImageTextBlend is a weighted sum of the SigLIP image and text
	// embeddings in the shared SigLIP space.
	StrategyImageTextBlend
	// StrategyMultimodal embeds title and primary image jointly with Voyage.
	StrategyMultimodal
	// StrategyTextFirstImage concatenates the Voyage text embedding with the
	// SigLIP embedding of the primary image.
	StrategyTextFirstImage
	// StrategyTextImageMean concatenates the Voyage text embedding with the
	// mean of the SigLIP embeddings of every product image.
	StrategyTextImageMean
	// StrategyTextImageSemantic extends StrategyTextFirstImage with scaled
	// attribute components (colors, style, materials).
	StrategyTextImageSemantic
)

// Blend weights for StrategyImageTextBlend, in SigLIP space.
const (
	ImageWeight = 0.7
	TextWeight  = 0.3
)

// Config is the full retrieval configuration for one method.
type Config struct {
	// Composite is the ordered embedding spec applied to query text.
	Composite []embedding.ModelSpec
	// Index and Namespace locate the method's vectors.
	Index     string
	Namespace string
	// Alpha is the dense weight used for hybrid scoring. 1 means dense-only.
	Alpha float64
	// Sparse enables sparse query encoding for this method.
	Sparse bool
	// Clean restricts the method to the curated product subset.
	Clean bool
	// Strategy selects the product-vector assembly at indexing time.
	Strategy Strategy
}

// Options tune the registry.
type Options struct {
	// SemanticMultiplier scales the attribute components of the
	// semantic-metadata method. Zero masks them out entirely.
	SemanticMultiplier float64
}

// Registry resolves methods to their configuration.
type Registry struct {
	table map[Method]Config
	order []Method
}

// Default is the method used when a caller does not name one.
func Default() Method { return SparseClean }

// NewRegistry builds the method table.
func NewRegistry(opts Options) *Registry {
	m := opts.SemanticMultiplier

	siglip := embedding.Spec(embedding.ModelSiglip)
	voyage := embedding.Spec(embedding.ModelVoyage3Large)
	openai := embedding.Spec(embedding.ModelOpenAILarge)
	voyageMM := embedding.ModelSpec{Model: embedding.ModelVoyageMultimodal, OutputDim: 1024, Multiplier: 1}
	voyageMMFull := embedding.ModelSpec{Model: embedding.ModelVoyageMultimodal, OutputDim: 2048, Multiplier: 1}
	attr := embedding.ModelSpec{Model: embedding.ModelVoyage3Large, Multiplier: m}

	table := map[Method]Config{
		Image: {
			Composite: []embedding.ModelSpec{siglip},
			Index:     "siglip-averaged",
			Namespace: "image-only",
			Alpha:     1,
			Strategy:  StrategyFirstImage,
		},
		Text: {
			Composite: []embedding.ModelSpec{siglip},
			Index:     "siglip-averaged",
			Namespace: "text-only",
			Alpha:     1,
			Strategy:  StrategyTextOnly,
		},
		ImageTextAverage: {
			Composite: []embedding.ModelSpec{siglip},
			Index:     "siglip-averaged",
			Namespace: "image-averaged-equal-weight",
			Alpha:     1,
			Strategy:  StrategyImageTextBlend,
		},
		VoyageText: {
			Composite: []embedding.ModelSpec{voyage},
			Index:     "siglip-voyage",
			Namespace: "text-only",
			Alpha:     1,
			Strategy:  StrategyTextOnly,
		},
		OpenAIText: {
			Composite: []embedding.ModelSpec{openai},
			Index:     "openai-text",
			Namespace: "text-only",
			Alpha:     1,
			Strategy:  StrategyTextOnly,
		},
		VoyageMultimodal: {
			Composite: []embedding.ModelSpec{voyageMM},
			Index:     "voyage-multimodal",
			Namespace: "image-only",
			Alpha:     1,
			Strategy:  StrategyMultimodal,
		},
		VoyageMultimodalFull: {
			Composite: []embedding.ModelSpec{voyageMMFull},
			Index:     "voyage-multimodal",
			Namespace: "full-dim",
			Alpha:     1,
			Strategy:  StrategyMultimodal,
		},
		VoyageTextSiglipImage: {
			Composite: []embedding.ModelSpec{voyage, siglip},
			Index:     "voyage-text-siglip-image",
			Namespace: "image-only",
			Alpha:     1,
			Strategy:  StrategyTextFirstImage,
		},
		TextImageAverage: {
			Composite: []embedding.ModelSpec{voyage, siglip},
			Index:     "siglip-image-voyage-text-hybrid",
			Namespace: "image-averaged-equal-weight",
			Alpha:     1,
			Strategy:  StrategyTextImageMean,
		},
		TextImageAverageSparse: {
			Composite: []embedding.ModelSpec{voyage, siglip},
			Index:     "siglip-image-voyage-text-hybrid",
			Namespace: "image-averaged-equal-weight",
			Alpha:     0.9,
			Sparse:    true,
			Strategy:  StrategyTextImageMean,
		},
		SparseClean: {
			Composite: []embedding.ModelSpec{voyage, siglip},
			Index:     "clean-siglip-image-voyage-text-hybrid",
			Namespace: "image-averaged-equal-weight",
			Alpha:     0.9,
			Sparse:    true,
			Clean:     true,
			Strategy:  StrategyTextImageMean,
		},
		SparseCleanNoImage: {
			Composite: []embedding.ModelSpec{voyage},
			Index:     "clean-siglip-voyage-hybrid-with-masking",
			Namespace: "text-only",
			Alpha:     0.9,
			Sparse:    true,
			Clean:     true,
			Strategy:  StrategyTextOnly,
		},
		SemanticMetadataMasking: {
			Composite: []embedding.ModelSpec{voyage, siglip, attr, attr, attr},
			Index:     "clean-siglip-voyage-hybrid-with-masking",
			Namespace: "image-only",
			Alpha:     1,
			Clean:     true,
			Strategy:  StrategyTextImageSemantic,
		},
	}

	order := []Method{
		Image, Text, ImageTextAverage,
		VoyageText, OpenAIText,
		VoyageMultimodal, VoyageMultimodalFull,
		VoyageTextSiglipImage, TextImageAverage, TextImageAverageSparse,
		SparseClean, SparseCleanNoImage,
		SemanticMetadataMasking,
	}

	return &Registry{table: table, order: order}
}

// Lookup resolves a method to its configuration.
func (r *Registry) Lookup(m Method) (Config, error) {
	cfg, ok := r.table[m]
	if !ok {
		return Config{}, &domain.UnknownMethodError{Method: string(m)}
	}
	return cfg, nil
}

// Parse validates a raw method string. Empty input resolves to the default.
func (r *Registry) Parse(s string) (Method, error) {
	if s == "" {
		return Default(), nil
	}
	m := Method(s)
	if _, ok := r.table[m]; !ok {
		return "", &domain.UnknownMethodError{Method: s}
	}
	return m, nil
}

// All returns every registered method in stable order.
func (r *Registry) All() []Method {
	out := make([]Method, len(r.order))
	copy(out, r.order)
	return out
}
