// Package sparse encodes text into lexical token-weight vectors through the
// internal sparse inference service.
package sparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/metrics"
	"github.com/fetchr/discovery/internal/vecmath"
)

// InputType tells the encoder whether the text is a search query or an
// indexed passage; the two are tokenized differently.
type InputType string

const (
	InputQuery   InputType = "query"
	InputPassage InputType = "passage"
)

const (
	maxRetries    = 3
	retryInterval = 10 * time.Millisecond
)

// Encoder is the consumer contract for sparse encoding.
type Encoder interface {
	Encode(ctx context.Context, text string, input InputType) (vecmath.Sparse, error)
	EncodeBatch(ctx context.Context, texts []string, input InputType) ([]vecmath.Sparse, error)
}

// Client calls the sparse inference service with constant-interval retries
// and an in-process cache keyed by exact text and input type.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	cache   *lru.Cache[string, vecmath.Sparse]
	logger  *zap.Logger
}

// Config holds the sparse service connection settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CacheSize int
	Logger    *zap.Logger
}

// NewClient creates a sparse encoder client.
func NewClient(cfg *Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 8192
	}

	cache, err := lru.New[string, vecmath.Sparse](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create sparse cache: %w", err)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
		cache:   cache,
		logger:  cfg.Logger,
	}, nil
}

// Encode returns the sparse vector for one text.
func (c *Client) Encode(ctx context.Context, text string, input InputType) (vecmath.Sparse, error) {
	key := string(input) + "\x00" + text
	if sv, ok := c.cache.Get(key); ok {
		metrics.SparseCacheTotal.WithLabelValues("hit").Inc()
		return sv, nil
	}
	metrics.SparseCacheTotal.WithLabelValues("miss").Inc()

	vecs, err := c.encode(ctx, []string{text}, input)
	if err != nil {
		return vecmath.Sparse{}, err
	}

	c.cache.Add(key, vecs[0])
	return vecs[0], nil
}

// EncodeBatch returns sparse vectors for a batch of texts, in input order.
// Cached entries are served locally; the rest go out in one request.
func (c *Client) EncodeBatch(ctx context.Context, texts []string, input InputType) ([]vecmath.Sparse, error) {
	out := make([]vecmath.Sparse, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		key := string(input) + "\x00" + text
		if sv, ok := c.cache.Get(key); ok {
			metrics.SparseCacheTotal.WithLabelValues("hit").Inc()
			out[i] = sv
			continue
		}
		metrics.SparseCacheTotal.WithLabelValues("miss").Inc()
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.encode(ctx, missing, input)
	if err != nil {
		return nil, err
	}
	for j, sv := range vecs {
		i := missingIdx[j]
		out[i] = sv
		c.cache.Add(string(input)+"\x00"+texts[i], sv)
	}
	return out, nil
}

type encodeRequest struct {
	Texts        []string `json:"texts"`
	InputType    string   `json:"input_type"`
	ReturnTokens bool     `json:"return_tokens"`
}

type encodeResponse struct {
	Vectors []struct {
		Indices []uint32  `json:"indices"`
		Values  []float32 `json:"values"`
	} `json:"sparse_vectors"`
}

func (c *Client) encode(ctx context.Context, texts []string, input InputType) ([]vecmath.Sparse, error) {
	var resp encodeResponse

	op := func() error {
		return c.post(ctx, encodeRequest{Texts: texts, InputType: string(input)}, &resp)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), maxRetries),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		metrics.SparseRequestsTotal.WithLabelValues(string(input), "error").Inc()
		return nil, fmt.Errorf("sparse encode: %w: %w", err, domain.ErrSparseProviderError)
	}

	if len(resp.Vectors) != len(texts) {
		metrics.SparseRequestsTotal.WithLabelValues(string(input), "error").Inc()
		return nil, fmt.Errorf("sparse encoder returned %d vectors for %d texts: %w",
			len(resp.Vectors), len(texts), domain.ErrSparseProviderError)
	}

	metrics.SparseRequestsTotal.WithLabelValues(string(input), "success").Inc()

	out := make([]vecmath.Sparse, len(resp.Vectors))
	for i, v := range resp.Vectors {
		out[i] = vecmath.Sparse{Indices: v.Indices, Values: v.Values}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, body encodeRequest, out *encodeResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal sparse request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/encode", bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build sparse request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sparse request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("sparse API error %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode sparse response: %w", err)
	}
	return nil
}
