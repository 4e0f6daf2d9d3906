// Package vecmath holds the small pure-vector operations the retrieval
// pipeline is built on: hybrid convex weighting, cosine similarity, and
// component-wise aggregation.
package vecmath

import (
	"fmt"
	"math"

	"github.com/fetchr/discovery/internal/domain"
)

// Sparse is a lexical token-weight vector: parallel index/value slices.
type Sparse struct {
	Indices []uint32
	Values  []float32
}

// IsEmpty reports whether the sparse vector carries no weights.
func (s Sparse) IsEmpty() bool { return len(s.Indices) == 0 }

// HybridScore scales a dense/sparse pair into a single convex hybrid query:
// dense by alpha, sparse values by 1-alpha. Sparse indices are untouched.
// Varying alpha per search method lets one index serve both mostly-semantic
// and mostly-lexical retrieval without re-indexing.
func HybridScore(dense []float32, sparse Sparse, alpha float64) ([]float32, Sparse, error) {
	if alpha < 0 || alpha > 1 {
		return nil, Sparse{}, fmt.Errorf("%w: got %g", domain.ErrInvalidAlpha, alpha)
	}

	scaledDense := make([]float32, len(dense))
	for i, v := range dense {
		scaledDense[i] = v * float32(alpha)
	}

	scaledSparse := Sparse{
		Indices: sparse.Indices,
		Values:  make([]float32, len(sparse.Values)),
	}
	for i, v := range sparse.Values {
		scaledSparse.Values[i] = v * float32(1-alpha)
	}

	return scaledDense, scaledSparse, nil
}

// Cosine returns the cosine similarity of two equal-length vectors. Returns 0
// for zero-norm or mismatched inputs rather than NaN.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Mean averages vectors component-wise (simple arithmetic mean). All inputs
// must share one dimension.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("mean of zero vectors")
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	out := make([]float32, dim)
	for _, v := range vectors {
		for i, x := range v {
			out[i] += x
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// Scale multiplies every component by m, returning a new slice.
func Scale(v []float32, m float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * float32(m)
	}
	return out
}

// Blend combines two equal-length vectors as wa*a + wb*b.
func Blend(a, b []float32, wa, wb float64) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("blend dimension mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i]*float32(wa) + b[i]*float32(wb)
	}
	return out, nil
}
