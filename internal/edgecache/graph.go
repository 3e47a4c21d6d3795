package edgecache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/driver"
	"github.com/agenthands/wikigraph/internal/logger"
)

// GraphStore keeps edges as SIMILAR relationships between Article nodes in
// Memgraph.
type GraphStore struct {
	driver driver.GraphDriver
	log    *logger.Logger
}

func NewGraphStore(d driver.GraphDriver, log *logger.Logger) *GraphStore {
	return &GraphStore{driver: d, log: log.With("component", "edge_cache_graph")}
}

func (s *GraphStore) Migrate(ctx context.Context) error {
	return s.driver.EnsureSchema(ctx)
}

func (s *GraphStore) QueryTouching(ctx context.Context, ids []int64) ([]model.CachedEdge, error) {
	ids = identity.DedupeIDs(ids)
	seen := make(map[model.Pair]struct{})
	var out []model.CachedEdge

	for _, chunk := range chunkIDs(ids) {
		res, err := s.driver.ExecuteQuery(ctx, driver.EdgesTouchingQuery, map[string]interface{}{"ids": chunk})
		if err != nil {
			return nil, fmt.Errorf("query cached edges: %w", err)
		}
		for _, rec := range res.Records {
			e, err := edgeFromRecord(rec.Get)
			if err != nil {
				s.log.Warn("skipping malformed cached edge", "error", err)
				continue
			}
			if _, dup := seen[e.Pair()]; dup {
				continue
			}
			seen[e.Pair()] = struct{}{}
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *GraphStore) InsertIfAbsent(ctx context.Context, e model.CachedEdge) (bool, error) {
	e, err := canonicalize(e)
	if err != nil {
		return false, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var createdBy interface{}
	if e.CreatedByUserID != nil {
		createdBy = e.CreatedByUserID.String()
	}
	params := map[string]interface{}{
		"source_id":     e.SourceID,
		"target_id":     e.TargetID,
		"score":         e.Score,
		"model_version": e.ModelVersion,
		"created_by":    createdBy,
		"created_at":    e.CreatedAt.UnixMilli(),
		"nonce":         uuid.NewString(),
	}

	res, err := s.driver.ExecuteQuery(ctx, driver.InsertEdgeIfAbsentQuery, params)
	if err != nil {
		return false, fmt.Errorf("insert cached edge (%d,%d): %w", e.SourceID, e.TargetID, err)
	}
	if len(res.Records) == 0 {
		return false, fmt.Errorf("insert cached edge (%d,%d): no result row", e.SourceID, e.TargetID)
	}
	v, _ := res.Records[0].Get("inserted")
	inserted, _ := v.(bool)
	return inserted, nil
}

func (s *GraphStore) IncrementEdgesDiscovered(ctx context.Context, id uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.driver.ExecuteQuery(ctx, driver.IncrementEdgesDiscoveredQuery, map[string]interface{}{
		"id": id.String(),
		"n":  int64(n),
	})
	if err != nil {
		return fmt.Errorf("increment edges_discovered: %w", err)
	}
	return nil
}

func (s *GraphStore) IncrementSearches(ctx context.Context, id uuid.UUID) error {
	_, err := s.driver.ExecuteQuery(ctx, driver.IncrementSearchesQuery, map[string]interface{}{"id": id.String()})
	if err != nil {
		return fmt.Errorf("increment total_searches: %w", err)
	}
	return nil
}

func (s *GraphStore) Close() error {
	return s.driver.Close(context.Background())
}

func edgeFromRecord(get func(string) (any, bool)) (model.CachedEdge, error) {
	var e model.CachedEdge

	src, ok := asInt64(get("source_id"))
	if !ok {
		return e, fmt.Errorf("missing source_id")
	}
	tgt, ok := asInt64(get("target_id"))
	if !ok {
		return e, fmt.Errorf("missing target_id")
	}
	p := model.CanonicalPair(src, tgt)
	e.SourceID, e.TargetID = p.A, p.B

	if v, ok := get("score"); ok {
		switch f := v.(type) {
		case float64:
			e.Score = f
		case int64:
			e.Score = float64(f)
		}
	}
	if v, ok := get("model_version"); ok {
		e.ModelVersion, _ = v.(string)
	}
	if v, ok := get("created_by"); ok {
		if str, ok := v.(string); ok {
			if id, err := uuid.Parse(str); err == nil {
				e.CreatedByUserID = &id
			}
		}
	}
	if ms, ok := asInt64(get("created_at")); ok {
		e.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return e, nil
}

func asInt64(v any, ok bool) (int64, bool) {
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
