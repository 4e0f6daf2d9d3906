// Package pinecone adapts Pinecone serverless indexes to the index contract.
// Connections are cached per (index, namespace) since the client binds a
// namespace at connection time.
package pinecone

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fetchr/discovery/internal/index"
	"github.com/fetchr/discovery/internal/vecmath"
)

// Provider resolves index names to Pinecone connections.
type Provider struct {
	client *pinecone.Client
	hosts  map[string]string
	logger *zap.Logger

	mu      sync.Mutex
	indexes map[string]*Index
}

// Config holds Pinecone connection settings.
type Config struct {
	APIKey string
	// Hosts maps index name to host URL. Missing entries are resolved via
	// DescribeIndex on first use.
	Hosts  map[string]string
	Logger *zap.Logger
}

// NewProvider creates a Pinecone provider.
func NewProvider(cfg *Config) (*Provider, error) {
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}

	hosts := make(map[string]string, len(cfg.Hosts))
	for name, host := range cfg.Hosts {
		hosts[name] = host
	}

	return &Provider{
		client:  client,
		hosts:   hosts,
		logger:  cfg.Logger,
		indexes: make(map[string]*Index),
	}, nil
}

// Index returns a connection wrapper for the named index.
func (p *Provider) Index(ctx context.Context, name string) (index.Index, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.indexes[name]; ok {
		return idx, nil
	}

	host, ok := p.hosts[name]
	if !ok {
		desc, err := p.client.DescribeIndex(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe index %s: %w", name, err)
		}
		host = desc.Host
		p.hosts[name] = host
	}

	idx := &Index{
		client: p.client,
		name:   name,
		host:   host,
		logger: p.logger,
		conns:  make(map[string]*pinecone.IndexConnection),
	}
	p.indexes[name] = idx
	return idx, nil
}

// Index is one Pinecone index.
type Index struct {
	client *pinecone.Client
	name   string
	host   string
	logger *zap.Logger

	mu    sync.Mutex
	conns map[string]*pinecone.IndexConnection
}

func (i *Index) conn(namespace string) (*pinecone.IndexConnection, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if c, ok := i.conns[namespace]; ok {
		return c, nil
	}
	c, err := i.client.Index(pinecone.NewIndexConnParams{Host: i.host, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("connect to index %s namespace %s: %w", i.name, namespace, err)
	}
	i.conns[namespace] = c
	return c, nil
}

// Upsert writes vectors into the namespace.
func (i *Index) Upsert(ctx context.Context, namespace string, vectors []index.Vector) error {
	conn, err := i.conn(namespace)
	if err != nil {
		return err
	}

	out := make([]*pinecone.Vector, 0, len(vectors))
	for _, v := range vectors {
		pv, err := toPinecone(v)
		if err != nil {
			return fmt.Errorf("vector %s: %w", v.ID, err)
		}
		out = append(out, pv)
	}

	if _, err := conn.UpsertVectors(ctx, out); err != nil {
		return fmt.Errorf("upsert %d vectors into %s/%s: %w", len(out), i.name, namespace, err)
	}
	return nil
}

// Fetch reads vectors by id. Missing ids are absent from the result.
func (i *Index) Fetch(ctx context.Context, namespace string, ids []string) (map[string]index.Vector, error) {
	conn, err := i.conn(namespace)
	if err != nil {
		return nil, err
	}

	resp, err := conn.FetchVectors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch %d vectors from %s/%s: %w", len(ids), i.name, namespace, err)
	}

	out := make(map[string]index.Vector, len(resp.Vectors))
	for id, v := range resp.Vectors {
		out[id] = fromPinecone(v)
	}
	return out, nil
}

// Query runs a top-K search in the namespace.
func (i *Index) Query(ctx context.Context, namespace string, q index.Query) ([]index.Match, error) {
	conn, err := i.conn(namespace)
	if err != nil {
		return nil, err
	}

	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          q.Values,
		TopK:            uint32(q.TopK),
		IncludeValues:   q.IncludeValues,
		IncludeMetadata: q.IncludeMetadata,
	}
	if !q.Sparse.IsEmpty() {
		req.SparseValues = &pinecone.SparseValues{
			Indices: q.Sparse.Indices,
			Values:  q.Sparse.Values,
		}
	}
	if !q.Filter.IsEmpty() {
		filter, err := structpb.NewStruct(map[string]any(q.Filter))
		if err != nil {
			return nil, fmt.Errorf("build metadata filter: %w", err)
		}
		req.MetadataFilter = filter
	}

	resp, err := conn.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", i.name, namespace, err)
	}

	out := make([]index.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		match := index.Match{ID: m.Vector.Id, Score: float64(m.Score)}
		if m.Vector.Values != nil {
			match.Values = *m.Vector.Values
		}
		if m.Vector.Metadata != nil {
			match.Metadata = m.Vector.Metadata.AsMap()
		}
		out = append(out, match)
	}
	return out, nil
}

// DeleteNamespace removes every vector in the namespace.
func (i *Index) DeleteNamespace(ctx context.Context, namespace string) error {
	conn, err := i.conn(namespace)
	if err != nil {
		return err
	}
	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("delete namespace %s/%s: %w", i.name, namespace, err)
	}
	return nil
}

func toPinecone(v index.Vector) (*pinecone.Vector, error) {
	values := v.Values
	pv := &pinecone.Vector{
		Id:     v.ID,
		Values: &values,
	}
	if !v.Sparse.IsEmpty() {
		pv.SparseValues = &pinecone.SparseValues{
			Indices: v.Sparse.Indices,
			Values:  v.Sparse.Values,
		}
	}
	if len(v.Metadata) > 0 {
		md, err := structpb.NewStruct(structable(index.FlattenMetadata(v.Metadata)))
		if err != nil {
			return nil, fmt.Errorf("convert metadata: %w", err)
		}
		pv.Metadata = md
	}
	return pv, nil
}

// structable rewrites string slices as []any, the only list form structpb
// accepts.
func structable(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if ss, ok := v.([]string); ok {
			items := make([]any, len(ss))
			for i, s := range ss {
				items[i] = s
			}
			out[k] = items
			continue
		}
		out[k] = v
	}
	return out
}

func fromPinecone(v *pinecone.Vector) index.Vector {
	out := index.Vector{ID: v.Id}
	if v.Values != nil {
		out.Values = *v.Values
	}
	if v.SparseValues != nil {
		out.Sparse = vecmath.Sparse{
			Indices: v.SparseValues.Indices,
			Values:  v.SparseValues.Values,
		}
	}
	if v.Metadata != nil {
		out.Metadata = v.Metadata.AsMap()
	}
	return out
}
