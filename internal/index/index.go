// Package index defines the vector index contract the retrieval pipeline
// queries, plus the metadata filter DSL shared by its implementations.
package index

import (
	"context"

	"github.com/fetchr/discovery/internal/vecmath"
)

// Vector is one indexed record.
type Vector struct {
	ID       string
	Values   []float32
	Sparse   vecmath.Sparse
	Metadata map[string]any
}

// Match is one query result.
type Match struct {
	ID       string
	Score    float64
	Values   []float32
	Metadata map[string]any
}

// Query is a single top-K request against one namespace.
type Query struct {
	Values          []float32
	Sparse          vecmath.Sparse
	TopK            int
	Filter          Filter
	IncludeValues   bool
	IncludeMetadata bool
}

// Index is one named vector index. Namespaces partition it.
type Index interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Vector, error)
	Query(ctx context.Context, namespace string, q Query) ([]Match, error)
	// DeleteNamespace removes every vector in the namespace.
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Provider resolves index names to live connections.
type Provider interface {
	Index(ctx context.Context, name string) (Index, error)
}
