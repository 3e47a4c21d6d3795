// Package connectivity discovers similarity edges between a batch of new
// articles and the articles already on a canvas. Edges that were computed
// before are served from the edge cache; the rest are computed from index
// vectors and written back.
package connectivity

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/logger"
)

// VectorSource hands out stored article vectors.
type VectorSource interface {
	Reconstruct(ctx context.Context, id int64) ([]float32, error)
	CanReconstruct() bool
}

// EdgeStore is the slice of the edge cache the engine needs.
type EdgeStore interface {
	QueryTouching(ctx context.Context, ids []int64) ([]model.CachedEdge, error)
	InsertIfAbsent(ctx context.Context, e model.CachedEdge) (bool, error)
	IncrementEdgesDiscovered(ctx context.Context, id uuid.UUID, n int) error
}

type TitleResolver interface {
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Options tune a single Connect call. Unset fields fall back to the engine
// configuration.
type Options struct {
	// Threshold is exclusive; nil uses the configured value so that zero can
	// be requested explicitly.
	Threshold  *float64
	MaxPerNode int
	// Identity is credited with newly persisted edges when set.
	Identity *uuid.UUID
}

// Report summarizes one Connect call.
type Report struct {
	CacheHits int
	Computed  int
	Inserted  int
	// Degraded is set when the compute phase failed and only cached edges
	// were returned.
	Degraded bool
	Elapsed  time.Duration
}

type Engine struct {
	vectors VectorSource
	edges   EdgeStore
	titles  TitleResolver
	cfg     config.ConnectivityConfig
	log     *logger.Logger
	tracer  trace.Tracer
}

func NewEngine(vectors VectorSource, edges EdgeStore, titles TitleResolver, cfg config.ConnectivityConfig, log *logger.Logger) *Engine {
	if cfg.ReconstructWorkers <= 0 {
		cfg.ReconstructWorkers = 8
	}
	return &Engine{
		vectors: vectors,
		edges:   edges,
		titles:  titles,
		cfg:     cfg,
		log:     log.With("component", "connectivity"),
		tracer:  otel.Tracer("github.com/agenthands/wikigraph/internal/core/connectivity"),
	}
}

// Connect returns edges with score above the threshold between newIDs and
// existingIDs, plus edges among newIDs themselves. Only invalid input is
// reported as an error; storage and index failures shrink the result.
func (e *Engine) Connect(ctx context.Context, newIDs, existingIDs []int64, opts Options) ([]model.TitledEdge, error) {
	edges, _, err := e.ConnectWithReport(ctx, newIDs, existingIDs, opts)
	return edges, err
}

func (e *Engine) ConnectWithReport(ctx context.Context, newIDs, existingIDs []int64, opts Options) ([]model.TitledEdge, Report, error) {
	start := time.Now()
	var rep Report

	if len(newIDs) == 0 {
		return nil, rep, fmt.Errorf("%w: new_ids must not be empty", model.ErrInvalidInput)
	}
	for _, id := range append(append([]int64(nil), newIDs...), existingIDs...) {
		if id < 0 {
			return nil, rep, fmt.Errorf("%w: negative article id %d", model.ErrInvalidInput, id)
		}
	}
	threshold := e.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if threshold < 0 || threshold >= 1 || math.IsNaN(threshold) {
		return nil, rep, fmt.Errorf("%w: threshold %v outside [0, 1)", model.ErrInvalidInput, threshold)
	}
	limit := opts.MaxPerNode
	if limit < 0 {
		return nil, rep, fmt.Errorf("%w: negative max_per_node %d", model.ErrInvalidInput, limit)
	}
	if limit == 0 {
		limit = e.cfg.MaxPerNode
	}

	ctx, span := e.tracer.Start(ctx, "connectivity.Connect")
	defer span.End()

	fresh := identity.DedupeIDs(newIDs)
	isNew := make(map[int64]bool, len(fresh))
	for _, id := range fresh {
		isNew[id] = true
	}
	// An id on both sides is treated as new.
	var existing []int64
	for _, id := range identity.DedupeIDs(existingIDs) {
		if !isNew[id] {
			existing = append(existing, id)
		}
	}
	span.SetAttributes(
		attribute.Int("connect.new", len(fresh)),
		attribute.Int("connect.existing", len(existing)),
		attribute.Float64("connect.threshold", threshold),
	)

	acc := newAccumulator()
	resolved := e.collectCached(ctx, fresh, existing, isNew, threshold, acc)
	rep.CacheHits = acc.len()

	computed, inserted, err := e.extend(ctx, fresh, existing, resolved, acc, threshold, limit, opts.Identity)
	if err != nil {
		e.log.Error("cross-edge computation failed, serving cached edges only", "error", err)
		span.RecordError(err)
		rep.Degraded = true
	} else {
		rep.Computed, rep.Inserted = len(computed), inserted
		for _, c := range computed {
			acc.put(c.pair, c.score)
		}
	}

	out := e.resolveTitles(ctx, acc)
	rep.Elapsed = time.Since(start)
	span.SetAttributes(
		attribute.Int("connect.cache_hits", rep.CacheHits),
		attribute.Int("connect.computed", rep.Computed),
		attribute.Int("connect.inserted", rep.Inserted),
	)
	e.log.Info("cross-edges resolved",
		"new", len(fresh),
		"existing", len(existing),
		"cache_hits", rep.CacheHits,
		"computed", rep.Computed,
		"inserted", rep.Inserted,
		"returned", len(out),
		"elapsed_ms", rep.Elapsed.Milliseconds(),
	)
	return out, rep, nil
}

// collectCached keeps every cached edge above the threshold whose endpoints
// are both in scope and returns the new ids that ended up with at least one
// cached edge. The per-node cap only bounds computed rows; cached edges are
// never re-charged to a different endpoint.
func (e *Engine) collectCached(ctx context.Context, fresh, existing []int64, isNew map[int64]bool, threshold float64, acc *accumulator) map[int64]bool {
	resolved := make(map[int64]bool)

	rows, err := e.edges.QueryTouching(ctx, fresh)
	if err != nil {
		e.log.Warn("edge cache probe failed", "error", err)
		return resolved
	}

	inScope := make(map[int64]bool, len(fresh)+len(existing))
	for _, id := range fresh {
		inScope[id] = true
	}
	for _, id := range existing {
		inScope[id] = true
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return pairLess(rows[i].Pair(), rows[j].Pair())
	})
	for _, r := range rows {
		p := r.Pair()
		if p.A == p.B || r.Score <= threshold || !inScope[p.A] || !inScope[p.B] {
			continue
		}
		if !isNew[p.A] && !isNew[p.B] {
			continue
		}
		if !acc.put(p, r.Score) {
			continue
		}
		for _, id := range []int64{p.A, p.B} {
			if isNew[id] {
				resolved[id] = true
			}
		}
	}
	return resolved
}

type scored struct {
	pair  model.Pair
	score float64
}

// extend computes edges for unresolved new ids and persists them. A panic
// anywhere in here is turned into an error.
func (e *Engine) extend(ctx context.Context, fresh, existing []int64, resolved map[int64]bool, acc *accumulator, threshold float64, limit int, who *uuid.UUID) (out []scored, inserted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in cross-edge computation", "panic", r, "stack", string(debug.Stack()))
			out, inserted, err = nil, 0, fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = e.compute(ctx, fresh, existing, resolved, acc, threshold, limit)
	if err != nil {
		return nil, 0, err
	}
	return out, e.persist(ctx, out, who), nil
}

// compute scores every unresolved new id against the other unresolved ids
// and the peers. Each row contributes at most limit edges.
func (e *Engine) compute(ctx context.Context, fresh, existing []int64, resolved map[int64]bool, acc *accumulator, threshold float64, limit int) ([]scored, error) {
	var missing []int64
	for _, id := range fresh {
		if !resolved[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if e.vectors == nil || !e.vectors.CanReconstruct() {
		e.log.Debug("index cannot reconstruct vectors, skipping computation", "missing", len(missing))
		return nil, nil
	}

	peers := append([]int64(nil), existing...)
	for _, id := range fresh {
		if resolved[id] {
			peers = append(peers, id)
		}
	}

	rows, cols, err := e.reconstruct(ctx, missing, peers)
	if err != nil {
		return nil, err
	}
	if rows.len() == 0 {
		return nil, nil
	}

	var out []scored
	seen := make(map[model.Pair]bool)
	type entry struct {
		id    int64
		score float64
	}
	for i := range rows.ids {
		rowID := rows.ids[i]
		var entries []entry
		consider := func(id int64, v []float32, n float64) {
			if id == rowID {
				return
			}
			if s := cosine(rows.vecs[i], rows.norms[i], v, n); s > threshold {
				entries = append(entries, entry{id: id, score: s})
			}
		}
		for j := range rows.ids {
			consider(rows.ids[j], rows.vecs[j], rows.norms[j])
		}
		for j := range cols.ids {
			consider(cols.ids[j], cols.vecs[j], cols.norms[j])
		}

		sort.Slice(entries, func(a, b int) bool {
			if entries[a].score != entries[b].score {
				return entries[a].score > entries[b].score
			}
			return entries[a].id < entries[b].id
		})
		if len(entries) > limit {
			entries = entries[:limit]
		}
		for _, en := range entries {
			p := model.CanonicalPair(rowID, en.id)
			if acc.has(p) || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, scored{pair: p, score: en.score})
		}
	}
	return out, nil
}

// reconstruct fetches vectors for the missing rows and the peer columns
// concurrently. Ids that fail or disagree on dimension are dropped.
func (e *Engine) reconstruct(ctx context.Context, missing, peers []int64) (rows, cols *vectorSet, err error) {
	ids := append(append([]int64(nil), missing...), peers...)
	vecs := make([][]float32, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ReconstructWorkers)
	for i, id := range ids {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("reconstruct %d: panic: %v", id, r)
				}
			}()
			v, err := e.vectors.Reconstruct(gctx, id)
			if err != nil {
				e.log.Debug("vector reconstruction failed", "article_id", id, "error", err)
				return nil
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	dim := 0
	for _, v := range vecs {
		if len(v) > 0 {
			dim = len(v)
			break
		}
	}
	rows, cols = &vectorSet{}, &vectorSet{}
	for i, id := range ids {
		v := vecs[i]
		if len(v) == 0 {
			continue
		}
		if len(v) != dim {
			e.log.Warn("vector dimension mismatch", "article_id", id, "dim", len(v), "want", dim)
			continue
		}
		if i < len(missing) {
			rows.add(id, v)
		} else {
			cols.add(id, v)
		}
	}
	return rows, cols, nil
}

// persist writes computed edges and credits the identity with the number of
// rows actually created.
func (e *Engine) persist(ctx context.Context, computed []scored, who *uuid.UUID) int {
	inserted := 0
	for _, c := range computed {
		ok, err := e.edges.InsertIfAbsent(ctx, model.CachedEdge{
			SourceID:        c.pair.A,
			TargetID:        c.pair.B,
			Score:           c.score,
			ModelVersion:    e.cfg.ModelVersion,
			CreatedByUserID: who,
		})
		if err != nil {
			e.log.Warn("failed to cache edge", "source_id", c.pair.A, "target_id", c.pair.B, "error", err)
			continue
		}
		if ok {
			inserted++
		}
	}
	if who != nil && inserted > 0 {
		if err := e.edges.IncrementEdgesDiscovered(ctx, *who, inserted); err != nil {
			e.log.Warn("failed to credit discovered edges", "identity", who.String(), "error", err)
		}
	}
	return inserted
}

func (e *Engine) resolveTitles(ctx context.Context, acc *accumulator) []model.TitledEdge {
	if acc.len() == 0 {
		return []model.TitledEdge{}
	}
	ids := make([]int64, 0, 2*acc.len())
	for _, p := range acc.order {
		ids = append(ids, p.A, p.B)
	}
	titles, err := e.titles.Titles(ctx, identity.DedupeIDs(ids))
	if err != nil {
		e.log.Warn("title resolution failed", "error", err)
		return []model.TitledEdge{}
	}

	out := make([]model.TitledEdge, 0, acc.len())
	for _, p := range acc.order {
		src, ok := titles[p.A]
		if !ok {
			continue
		}
		tgt, ok := titles[p.B]
		if !ok {
			continue
		}
		out = append(out, model.TitledEdge{
			Source:   src,
			Target:   tgt,
			Score:    acc.scores[p],
			SourceID: p.A,
			TargetID: p.B,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// accumulator collects distinct pairs in insertion order.
type accumulator struct {
	scores map[model.Pair]float64
	order  []model.Pair
}

func newAccumulator() *accumulator {
	return &accumulator{scores: make(map[model.Pair]float64)}
}

func (a *accumulator) has(p model.Pair) bool {
	_, ok := a.scores[p]
	return ok
}

func (a *accumulator) len() int { return len(a.order) }

// put adds p unless it is already present.
func (a *accumulator) put(p model.Pair, score float64) bool {
	if a.has(p) {
		return false
	}
	a.scores[p] = score
	a.order = append(a.order, p)
	return true
}

func pairLess(x, y model.Pair) bool {
	if x.A != y.A {
		return x.A < y.A
	}
	return x.B < y.B
}
