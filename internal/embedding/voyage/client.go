// Package voyage provides text and multimodal embeddings through the
// Voyage AI REST API.
package voyage

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
	provider = "voyage"

	textModel       = "voyage-3-large"
	multimodalModel = "voyage-multimodal-3"
)

// Client calls the Voyage embeddings endpoints.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *zap.Logger
}

// Config holds the Voyage connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewClient creates a Voyage API client.
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

type embeddingRequest struct {
	Input           []string `json:"input"`
	Model           string   `json:"model"`
	InputType       string   `json:"input_type,omitempty"`
	OutputDimension int      `json:"output_dimension,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedText embeds one text with voyage-3-large. outputDim 0 keeps the
// model's native dimensionality.
func (c *Client) EmbedText(ctx context.Context, text string, outputDim int, input embedding.InputType) ([]float32, error) {
	req := embeddingRequest{
		Input:           []string{text},
		Model:           textModel,
		InputType:       string(input),
		OutputDimension: outputDim,
	}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", textModel, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty voyage response: %w", domain.ErrEmbeddingProviderError)
	}
	return resp.Data[0].Embedding, nil
}

type multimodalContent struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type multimodalRequest struct {
	Inputs []struct {
		Content []multimodalContent `json:"content"`
	} `json:"inputs"`
	Model           string `json:"model"`
	InputType       string `json:"input_type,omitempty"`
	OutputDimension int    `json:"output_dimension,omitempty"`
}

// EmbedMultimodal embeds text and an optional image jointly. A nil image
// yields a text-only multimodal embedding, which shares the image space.
func (c *Client) EmbedMultimodal(ctx context.Context, text string, image []byte, outputDim int) ([]float32, error) {
	content := []multimodalContent{{Type: "text", Text: text}}
	if len(image) > 0 {
		content = append(content, multimodalContent{
			Type:        "image_base64",
			ImageBase64: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
		})
	}

	req := multimodalRequest{
		Model:           multimodalModel,
		OutputDimension: outputDim,
	}
	req.Inputs = append(req.Inputs, struct {
		Content []multimodalContent `json:"content"`
	}{Content: content})

	var resp embeddingResponse
	if err := c.post(ctx, "/multimodalembeddings", multimodalModel, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty voyage multimodal response: %w", domain.ErrEmbeddingProviderError)
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) post(ctx context.Context, path, model string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal voyage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build voyage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		return fmt.Errorf("voyage request: %w: %w", err, domain.ErrEmbeddingProviderError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("voyage API error %d: %s: %w", resp.StatusCode, msg, domain.ErrEmbeddingProviderError)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		return fmt.Errorf("decode voyage response: %w", err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	return nil
}
