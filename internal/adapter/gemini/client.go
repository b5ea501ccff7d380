// Package gemini implements the llm port with the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/Strob0t/EventForge/internal/port/llm"
)

// ProviderName is the registry key of this adapter.
const ProviderName = "gemini"

func init() {
	llm.Register(ProviderName, func(cfg llm.Config) (llm.Provider, error) {
		return NewClient(context.Background(), cfg)
	})
}

// Client wraps a genai client bound to one model.
type Client struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewClient creates a Gemini API client. cfg.BaseURL overrides the API host.
func NewClient(ctx context.Context, cfg llm.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini: model is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, model: cfg.Model, maxTokens: int32(cfg.MaxTokens)}, nil //nolint:gosec // G115: bounded by config
}

// Name returns the provider name.
func (c *Client) Name() string { return ProviderName }

// Complete maps the conversation onto user/model turns.
func (c *Client) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	gc := &genai.GenerateContentConfig{}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if c.maxTokens > 0 {
		gc.MaxOutputTokens = c.maxTokens
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, gc)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}
