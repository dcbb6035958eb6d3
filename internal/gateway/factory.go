package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/llm"
)

// Factory constructs a client for a configured backend. A backend is
// available when its factory succeeds.
type Factory func(ctx context.Context, bc config.BackendConfig) (llm.Client, error)

// DefaultFactory builds clients for the supported providers.
func DefaultFactory(logger *slog.Logger) Factory {
	return func(ctx context.Context, bc config.BackendConfig) (llm.Client, error) {
		switch bc.Provider {
		case "openai":
			return llm.NewOpenAIClient(bc.APIKey, bc.BaseURL, logger)
		case "anthropic":
			return llm.NewAnthropicClient(bc.APIKey, bc.BaseURL, logger)
		case "gemini":
			return llm.NewGeminiClient(ctx, bc.APIKey, bc.BaseURL, logger)
		case "ollama":
			return llm.NewOllamaClient(bc.BaseURL, logger), nil
		default:
			return nil, fmt.Errorf("unsupported provider %q", bc.Provider)
		}
	}
}
