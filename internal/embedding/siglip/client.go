// Package siglip provides image and text embeddings through the internal
// SigLIP inference service.
package siglip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/embedding"
	"github.com/fetchr/discovery/internal/metrics"
)

const (
	provider = "siglip"
	model    = "siglip"
)

// Client calls the SigLIP inference service. Image and text embeddings share
// one 512-dimensional space.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *zap.Logger
}

// Config holds the SigLIP service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewClient creates a SigLIP service client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
		logger:  cfg.Logger,
	}
}

type textRequest struct {
	Texts []string `json:"texts"`
}

type imageRequest struct {
	Images []string `json:"images"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedText embeds one text. The service has a fixed output dimension, so a
// non-zero outputDim other than the native one is a config mistake surfaced
// downstream by the index. The input type is ignored.
func (c *Client) EmbedText(ctx context.Context, text string, outputDim int, _ embedding.InputType) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds a batch of texts in one call.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embedResponse
	if err := c.post(ctx, "/embed/text", textRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("siglip returned %d embeddings for %d texts: %w",
			len(resp.Embeddings), len(texts), domain.ErrEmbeddingProviderError)
	}
	return resp.Embeddings, nil
}

// EmbedImage embeds one image from raw bytes.
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	vecs, err := c.EmbedImages(ctx, [][]byte{image})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImages embeds a batch of images in one call.
func (c *Client) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}

	var resp embedResponse
	if err := c.post(ctx, "/embed/image", imageRequest{Images: encoded}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(images) {
		return nil, fmt.Errorf("siglip returned %d embeddings for %d images: %w",
			len(resp.Embeddings), len(images), domain.ErrEmbeddingProviderError)
	}
	return resp.Embeddings, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal siglip request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build siglip request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		return fmt.Errorf("siglip request: %w: %w", err, domain.ErrEmbeddingProviderError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("siglip API error %d: %s: %w", resp.StatusCode, msg, domain.ErrEmbeddingProviderError)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		return fmt.Errorf("decode siglip response: %w", err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	return nil
}
