// Package memory provides an in-process index implementation used by tests
// and local development. Scoring is dot product over dense plus sparse parts,
// matching a dotproduct-metric serving index.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fetchr/discovery/internal/index"
)

// Index stores vectors per namespace in memory.
type Index struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]index.Vector
}

// New creates an empty in-memory index.
func New() *Index {
	return &Index{namespaces: make(map[string]map[string]index.Vector)}
}

// Provider serves named in-memory indexes, creating them on first use.
type Provider struct {
	mu      sync.Mutex
	indexes map[string]*Index
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{indexes: make(map[string]*Index)}
}

// Index returns the named index, creating it if needed.
func (p *Provider) Index(_ context.Context, name string) (index.Index, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.indexes[name]
	if !ok {
		idx = New()
		p.indexes[name] = idx
	}
	return idx, nil
}

// Upsert inserts or replaces vectors.
func (m *Index) Upsert(_ context.Context, namespace string, vectors []index.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]index.Vector)
		m.namespaces[namespace] = ns
	}
	for _, v := range vectors {
		ns[v.ID] = v
	}
	return nil
}

// Fetch returns the stored vectors for ids. Missing ids are absent from the
// result, not an error.
func (m *Index) Fetch(_ context.Context, namespace string, ids []string) (map[string]index.Vector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]index.Vector)
	ns := m.namespaces[namespace]
	for _, id := range ids {
		if v, ok := ns[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// Query scores every vector in the namespace and returns the top K.
func (m *Index) Query(_ context.Context, namespace string, q index.Query) ([]index.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []index.Match
	for _, v := range m.namespaces[namespace] {
		if !matchesFilter(v.Metadata, q.Filter) {
			continue
		}
		match := index.Match{ID: v.ID, Score: score(v, q)}
		if q.IncludeValues {
			match.Values = v.Values
		}
		if q.IncludeMetadata {
			match.Metadata = v.Metadata
		}
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// DeleteNamespace drops every vector in the namespace.
func (m *Index) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func score(v index.Vector, q index.Query) float64 {
	var s float64
	n := min(len(v.Values), len(q.Values))
	for i := 0; i < n; i++ {
		s += float64(v.Values[i]) * float64(q.Values[i])
	}

	if !q.Sparse.IsEmpty() && !v.Sparse.IsEmpty() {
		weights := make(map[uint32]float32, len(v.Sparse.Indices))
		for i, idx := range v.Sparse.Indices {
			weights[idx] = v.Sparse.Values[i]
		}
		for i, idx := range q.Sparse.Indices {
			s += float64(weights[idx]) * float64(q.Sparse.Values[i])
		}
	}
	return s
}

func matchesFilter(md map[string]any, f index.Filter) bool {
	for field, pred := range f {
		ops, ok := pred.(map[string]any)
		if !ok {
			if md[field] != pred {
				return false
			}
			continue
		}
		for op, operand := range ops {
			if !applyOp(md[field], op, operand) {
				return false
			}
		}
	}
	return true
}

func applyOp(value any, op string, operand any) bool {
	switch op {
	case "$eq":
		return value == operand
	case "$in":
		return contains(operand, value)
	case "$nin":
		return !contains(operand, value)
	case "$gte":
		fv, ok := asFloat(value)
		ov, _ := asFloat(operand)
		return ok && fv >= ov
	case "$lte":
		fv, ok := asFloat(value)
		ov, _ := asFloat(operand)
		return ok && fv <= ov
	default:
		return false
	}
}

func contains(operand, value any) bool {
	items, ok := operand.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
