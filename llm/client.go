package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xr-voice-gateway/internal/config"
	"github.com/xr-voice-gateway/internal/logging"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to an OpenAI compatible chat-completions endpoint. When the
// primary model fails transiently the request is retried once against
// FallbackModel.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	HTTP          *http.Client
	// FallbackDelay is waited before the fallback attempt.
	FallbackDelay time.Duration
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

type ChatResponse struct {
	ID      string
	Model   string
	Content string
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

const maxTokensCap = 4000

func NewClient(cfg config.LLMConfig) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		FallbackModel: cfg.FallbackModel,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		HTTP:          &http.Client{Timeout: cfg.GetTimeout()},
		FallbackDelay: 250 * time.Millisecond,
	}
}

// Complete returns the first choice's content for messages using the
// client defaults.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.CreateChatCompletion(ctx, ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = "local"
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if maxTokens > maxTokensCap {
		maxTokens = maxTokensCap
	}
	temperature := c.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	resp, err := c.send(ctx, model, req.Messages, maxTokens, temperature)
	if err == nil || !errors.Is(err, ErrTransient) {
		return resp, err
	}
	fallback := c.FallbackModel
	if fallback == "" || fallback == model || ctx.Err() != nil {
		return resp, err
	}
	logging.WarnwCtx(ctx, "llm: primary model failed, trying fallback", "model", model, "fallback", fallback, "err", err)
	select {
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	case <-time.After(c.FallbackDelay):
	}
	resp, ferr := c.send(ctx, fallback, req.Messages, maxTokens, temperature)
	if ferr != nil {
		return ChatResponse{}, fmt.Errorf("fallback %s: %w", fallback, ferr)
	}
	return resp, nil
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatCompletion struct {
	ID      string `json:"id"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *Client) send(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (ChatResponse, error) {
	body, err := json.Marshal(chatPayload{Model: model, Messages: messages, MaxTokens: maxTokens, Temperature: temperature})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out chatCompletion
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ChatResponse{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		content := ""
		if len(out.Choices) > 0 {
			content = out.Choices[0].Message.Content
		}
		return ChatResponse{ID: out.ID, Model: model, Content: content}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return ChatResponse{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		return ChatResponse{}, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	}
}
