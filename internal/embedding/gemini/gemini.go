// Package gemini embeds text with Google Generative AI embedding models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"lawbot/internal/embedding"
)

// maxBatch is the API limit on contents per batch request.
const maxBatch = 100

var knownDimensions = map[string]int{
	"text-embedding-004": 768,
	"embedding-001":      768,
}

type Config struct {
	APIKey     string
	Model      string
	Dimensions int
}

// Client is an Embedder backed by a genai embedding model.
type Client struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	name      string
	dimension int
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini embedder: missing API key")
	}
	name := cfg.Model
	if name == "" {
		name = "text-embedding-004"
	}
	dim, err := dimensionFor(name, cfg.Dimensions)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	return &Client{
		client:    client,
		model:     client.EmbeddingModel(name),
		name:      name,
		dimension: dim,
	}, nil
}

func dimensionFor(model string, configured int) (int, error) {
	if configured > 0 {
		return configured, nil
	}
	if d, ok := knownDimensions[strings.TrimPrefix(model, "models/")]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("gemini embedder: unknown dimension for model %q, set dimensions", model)
}

func (c *Client) ModelID() string { return "gemini/" + c.name }

func (c *Client) Dimension() int { return c.dimension }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrEmptyText
	}
	resp, err := c.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp.Embedding == nil {
		return nil, errors.New("gemini embed: no embedding returned")
	}
	return c.vector(resp.Embedding.Values)
}

// EmbedMany splits texts into API-sized batches.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		batch := c.model.NewBatch()
		for _, t := range texts[start:end] {
			if strings.TrimSpace(t) == "" {
				return nil, embedding.ErrEmptyText
			}
			batch.AddContent(genai.Text(t))
		}
		resp, err := c.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini batch embed: %w", err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini batch embed: got %d vectors for %d inputs", len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			v, err := c.vector(e.Values)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Client) vector(values []float32) ([]float32, error) {
	if len(values) != c.dimension {
		return nil, fmt.Errorf("gemini embed: got dimension %d, want %d", len(values), c.dimension)
	}
	v := append([]float32(nil), values...)
	embedding.Normalize(v)
	return v, nil
}

// Close releases the underlying client.
func (c *Client) Close() error { return c.client.Close() }
