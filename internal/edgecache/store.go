// Package edgecache persists discovered cross-edges. Rows are write-once:
// the only write path is an insert that yields to an existing row.
package edgecache

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/driver"
	"github.com/agenthands/wikigraph/internal/logger"
)

type Store interface {
	Migrate(ctx context.Context) error
	// QueryTouching returns every cached edge with at least one endpoint in ids.
	QueryTouching(ctx context.Context, ids []int64) ([]model.CachedEdge, error)
	// InsertIfAbsent stores the canonicalized edge unless the pair exists.
	// It reports whether this call created the row.
	InsertIfAbsent(ctx context.Context, e model.CachedEdge) (bool, error)
	IncrementEdgesDiscovered(ctx context.Context, id uuid.UUID, n int) error
	IncrementSearches(ctx context.Context, id uuid.UUID) error
	Close() error
}

// Open builds the configured backend and migrates it.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.EdgeCache.Backend {
	case "postgres":
		s, err = OpenPostgres(cfg.EdgeCache.DSN, log)
	case "sqlite":
		s, err = OpenSQLite(cfg.EdgeCache.DSN, log)
	case "memgraph":
		var d *driver.MemgraphDriver
		d, err = driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, log)
		if err == nil {
			s = NewGraphStore(d, log)
		}
	default:
		return nil, fmt.Errorf("unknown edge cache backend %q", cfg.EdgeCache.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate edge cache: %w", err)
	}
	log.Info("edge cache ready", "backend", cfg.EdgeCache.Backend)
	return s, nil
}

func canonicalize(e model.CachedEdge) (model.CachedEdge, error) {
	if e.SourceID == e.TargetID {
		return e, fmt.Errorf("%w: self pair %d", model.ErrInvalidInput, e.SourceID)
	}
	if e.SourceID < 0 || e.TargetID < 0 {
		return e, fmt.Errorf("%w: negative article id", model.ErrInvalidInput)
	}
	p := e.Pair()
	e.SourceID, e.TargetID = p.A, p.B
	return e, nil
}

const queryChunk = 500

func chunkIDs(ids []int64) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += queryChunk {
		out = append(out, ids[start:min(start+queryChunk, len(ids))])
	}
	return out
}
