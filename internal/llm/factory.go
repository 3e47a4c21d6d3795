package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/logger"
)

// NewEmbedder builds the embedder for the configured provider.
func NewEmbedder(ctx context.Context, cfg config.LLMConfig, log *logger.Logger) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.EmbeddingModel, cfg.BaseURL), nil

	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.EmbeddingModel)

	case "ollama", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = strings.TrimRight(baseURL, "/") + "/v1"
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		log.Info("embedding via ollama openai-compatible api", "base_url", baseURL, "model", cfg.EmbeddingModel)
		return NewOpenAIEmbedder(apiKey, cfg.EmbeddingModel, baseURL), nil

	case "claude":
		return nil, fmt.Errorf("llm provider %q has no embedding endpoint", provider)

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
