package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/logger"
)

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	e, err := NewEmbedder(ctx, config.LLMConfig{Provider: "ollama", EmbeddingModel: "all-minilm"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	e, err = NewEmbedder(ctx, config.LLMConfig{Provider: "OpenAI", APIKey: "sk-test"}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", string(e.(*OpenAIEmbedder).model))

	_, err = NewEmbedder(ctx, config.LLMConfig{Provider: "claude"}, logger.Nop())
	assert.ErrorContains(t, err, "no embedding endpoint")

	_, err = NewEmbedder(ctx, config.LLMConfig{Provider: "mystery"}, logger.Nop())
	assert.ErrorContains(t, err, "unsupported llm provider")
}
