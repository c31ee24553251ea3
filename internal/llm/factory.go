package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pitwall/pitwall/internal/config"
)

// New builds the configured provider wrapped in the retry policy.
func New(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (Client, error) {
	var (
		provider Client
		err      error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		provider, err = NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case config.ProviderGemini:
		provider, err = NewGeminiClient(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	return NewRetrying(provider, RetryConfig{
		Provider:   cfg.Provider,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		Logger:     logger,
	}), nil
}
