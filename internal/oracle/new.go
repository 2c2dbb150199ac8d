package oracle

import (
	"context"
	"fmt"

	"github.com/zulandar/nudge/internal/config"
	"go.uber.org/zap"
)

// New builds the oracle named by cfg.Provider.
func New(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (Oracle, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(AnthropicOpts{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
			Logger:    logger,
		})
	case "gemini":
		return NewGeminiClient(ctx, GeminiOpts{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("oracle: unsupported provider %q", cfg.Provider)
	}
}
