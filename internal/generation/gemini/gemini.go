// Package gemini generates answers with Google Generative AI models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

type Client struct {
	client      *genai.Client
	name        string
	temperature float32
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini generator: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini generator: %w", err)
	}
	return &Client{client: client, name: cfg.Model, temperature: cfg.Temperature}, nil
}

func (c *Client) ModelID() string { return "gemini/" + c.name }

func (c *Client) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	model := c.client.GenerativeModel(c.name)
	model.SetTemperature(c.temperature)
	model.SetMaxOutputTokens(int32(maxNewTokens))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return strings.TrimSpace(b.String()), nil
}

func (c *Client) Close() error { return c.client.Close() }
