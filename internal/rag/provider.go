package rag

import (
	"context"

	"github.com/pkg/errors"

	"github.com/xr-voice-gateway/internal/config"
	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/llm"
)

// NewChatModel builds the chat model selected by cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (ChatModel, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiChat(ctx, GeminiOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case config.ProviderOpenAI, "":
		return OpenAIChat{Client: llm.NewClient(cfg)}, nil
	default:
		return nil, errors.Errorf("rag: unknown llm provider %q", cfg.Provider)
	}
}

// Open assembles a Generator from configuration. The returned close func
// releases the database pool, if any.
func Open(ctx context.Context, ragCfg config.RAGConfig, llmCfg config.LLMConfig) (*Generator, func(), error) {
	model, err := NewChatModel(ctx, llmCfg)
	if err != nil {
		return nil, nil, err
	}
	if ragCfg.DatabaseURL == "" {
		logging.Infow("rag: no database configured, answering without retrieval")
		return NewGenerator(NoopRetriever{}, model, ragCfg.TopK, ragCfg.Group), func() {}, nil
	}
	pg, err := NewPostgresRetriever(ctx, ragCfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if ragCfg.MigrateOnStart {
		if err := Migrate(ctx, pg.Pool()); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	return NewGenerator(pg, model, ragCfg.TopK, ragCfg.Group), pg.Close, nil
}
