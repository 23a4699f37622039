package rag

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/xr-voice-gateway/llm"
)

type GeminiOptions struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// BaseURL overrides the Gemini API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiChat is a ChatModel backed by the Gemini API.
type GeminiChat struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func NewGeminiChat(ctx context.Context, opts GeminiOptions) (*GeminiChat, error) {
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "rag: gemini client")
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	return &GeminiChat{client: client, model: opts.Model, config: cfg}, nil
}

func (g *GeminiChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	cfg := *g.config
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &cfg)
	if err != nil {
		return "", errors.Wrap(err, "gemini: generate content")
	}
	return resp.Text(), nil
}
