package embedding

import (
	"fmt"
	"strings"
)

// Model identifies an embedding backend model.
type Model string

const (
	// ModelSiglip is the joint image/text model (512-dim).
	ModelSiglip Model = "siglip"
	// ModelOpenAILarge is OpenAI's large general text model.
	ModelOpenAILarge Model = "text-embedding-3-large"
	// ModelVoyage3Large is the Voyage large text model (default 2048-dim).
	ModelVoyage3Large Model = "voyage-3-large"
	// ModelVoyageMultimodal is the Voyage text+image model.
	ModelVoyageMultimodal Model = "voyage-multimodal-3"
)

// ModelSpec is one component of a composite embedding: a model, an optional
// output-dimension override (0 = provider default), and a scalar multiplier
// applied to every component value. The multiplier is always explicit; 0 is a
// meaningful value that zeroes the component while preserving vector layout.
type ModelSpec struct {
	Model      Model
	OutputDim  int
	Multiplier float64
}

// Spec builds a ModelSpec with the identity multiplier.
func Spec(m Model) ModelSpec {
	return ModelSpec{Model: m, Multiplier: 1}
}

// SpecKey renders a composite spec as a canonical cache-key fragment. Two
// composites share a key only when models, dimensions, multipliers, and order
// all match; there is no partial-cache reuse across differing composites.
func SpecKey(specs []ModelSpec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = fmt.Sprintf("%s:%d:%g", s.Model, s.OutputDim, s.Multiplier)
	}
	return strings.Join(parts, "|")
}
