package server

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core"
	"github.com/agenthands/wikigraph/internal/edgecache"
	"github.com/agenthands/wikigraph/internal/llm"
	"github.com/agenthands/wikigraph/internal/logger"
	"github.com/agenthands/wikigraph/internal/metadata"
	"github.com/agenthands/wikigraph/internal/vectorindex"
)

// NewServer opens every backing store named by cfg and wires the explorer.
// On failure, whatever was already opened is closed again.
func NewServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *Server, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	embedder, err := llm.NewEmbedder(ctx, cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		closers = append(closers, c.Close)
	}
	if cfg.Redis.Addr != "" {
		kv, err := llm.NewRedisKV(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		closers = append(closers, kv.Close)
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		embedder = llm.NewCachedEmbedder(embedder, kv, cfg.LLM.EmbeddingModel, ttl, log)
		log.Info("embedding cache enabled", "addr", cfg.Redis.Addr, "ttl", ttl.String())
	}

	index, err := openIndex(ctx, cfg.Index, log)
	if err != nil {
		return nil, err
	}

	articles, err := metadata.Open(ctx, cfg.Metadata.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	closers = append(closers, articles.Close)

	edges, err := edgecache.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open edge cache: %w", err)
	}
	closers = append(closers, edges.Close)

	explorer := core.NewExplorer(cfg, embedder, index, articles, edges, log)
	s := New(explorer, cfg.Server, log)
	s.closers = closers
	return s, nil
}

func openIndex(ctx context.Context, cfg config.IndexConfig, log *logger.Logger) (vectorindex.Index, error) {
	switch cfg.Provider {
	case "memory":
		f, err := vectorindex.LoadFlat(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load vector dump: %w", err)
		}
		log.Info("vector index ready", "provider", "memory", "vectors", f.Len())
		return f, nil
	case "qdrant", "":
		q, err := vectorindex.NewQdrant(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown index provider %q", cfg.Provider)
	}
}
