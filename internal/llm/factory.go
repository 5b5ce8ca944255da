package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/logging"
)

// NewClient builds the configured provider wrapped with metrics.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	provider := strings.ToLower(cfg.Provider)

	var c LLMClient
	switch provider {
	case "openai":
		c = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)

	case "gemini":
		g, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		c = g

	case "claude":
		c = NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL)

	case "ollama":
		// Ollama serves an OpenAI-compatible API under /v1.
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		logging.FromContext(ctx).Info().Str("base_url", baseURL).Msg("Using Ollama through the OpenAI-compatible API")
		c = NewOpenAIClient(apiKey, cfg.Model, baseURL)

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}

	return NewInstrumented(provider, c), nil
}
