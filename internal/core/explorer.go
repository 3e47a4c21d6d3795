package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core/community"
	"github.com/agenthands/wikigraph/internal/core/connectivity"
	"github.com/agenthands/wikigraph/internal/core/graph"
	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/core/ranking"
	"github.com/agenthands/wikigraph/internal/llm"
	"github.com/agenthands/wikigraph/internal/logger"
	"github.com/agenthands/wikigraph/internal/metadata"
	"github.com/agenthands/wikigraph/internal/vectorindex"
)

// ArticleStore is the read side of the metadata corpus.
type ArticleStore interface {
	Lookup(ctx context.Context, ids []int64) (map[int64]model.Article, error)
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
	ResolveKeys(ctx context.Context, keys []string) (map[string]int64, error)
	Signals() metadata.Signals
}

// EdgeCache is the persisted edge store plus the identity counters.
type EdgeCache interface {
	connectivity.EdgeStore
	IncrementSearches(ctx context.Context, id uuid.UUID) error
}

type Connector interface {
	Connect(ctx context.Context, newIDs, existingIDs []int64, opts connectivity.Options) ([]model.TitledEdge, error)
}

// Explorer answers related-article queries and grows exploration graphs.
type Explorer struct {
	Embedder  llm.Embedder
	Index     vectorindex.Index
	Articles  ArticleStore
	Edges     EdgeCache
	Ranker    *ranking.Ranker
	Connector Connector
	Detector  community.Detector

	cfg    *config.Config
	log    *logger.Logger
	tracer trace.Tracer
}

func NewExplorer(cfg *config.Config, embedder llm.Embedder, index vectorindex.Index, articles ArticleStore, edges EdgeCache, log *logger.Logger) *Explorer {
	return &Explorer{
		Embedder:  embedder,
		Index:     index,
		Articles:  articles,
		Edges:     edges,
		Ranker:    ranking.NewRanker(cfg.Ranking),
		Connector: connectivity.NewEngine(index, edges, articles, cfg.Connectivity, log),
		Detector:  community.NewDetector(),
		cfg:       cfg,
		log:       log.With("component", "explorer"),
		tracer:    otel.Tracer("github.com/agenthands/wikigraph/internal/core"),
	}
}

type RelatedRequest struct {
	Query string
	// Context lists the caller's current graph nodes as ids or titles.
	Context      []string
	K            int
	SemanticOnly bool
	Debug        bool
	Identity     *uuid.UUID
}

type Result struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Key   string `json:"key"`
	// Score is the fused score scaled to 0-100.
	Score      int      `json:"score"`
	ScoreFloat float64  `json:"score_float"`
	Debug      *Signals `json:"debug,omitempty"`
}

type Signals struct {
	model.SignalBreakdown
	Similarity float64 `json:"similarity"`
}

type RelatedResponse struct {
	Query      string             `json:"query"`
	QueryID    *int64             `json:"query_id,omitempty"`
	Results    []Result           `json:"results"`
	CrossEdges []model.TitledEdge `json:"cross_edges"`
}

// Related ranks articles related to req.Query and connects them to the
// caller's context. Only the query embedding, index search and metadata
// lookup can fail the request.
func (x *Explorer) Related(ctx context.Context, req RelatedRequest) (*RelatedResponse, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if identity.Key(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", model.ErrInvalidInput)
	}
	k := req.K
	if k <= 0 {
		k = x.cfg.Search.ResultsToReturn
	}
	if k > x.cfg.Search.MaxResults {
		k = x.cfg.Search.MaxResults
	}

	ctx, span := x.tracer.Start(ctx, "explorer.Related")
	defer span.End()
	span.SetAttributes(attribute.Int("related.k", k), attribute.Bool("related.semantic_only", req.SemanticOnly))

	selfID := x.resolveOne(ctx, query)

	vecs, err := x.Embedder.Embed(ctx, []string{strings.ReplaceAll(query, "_", " ")})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: embed query: %v", model.ErrUpstreamUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors", model.ErrUpstreamUnavailable, len(vecs))
	}

	poolSize := x.cfg.Search.CandidatePoolSize
	if selfID != nil {
		poolSize++
	}
	pool, err := x.Index.Search(ctx, vecs[0], poolSize)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: vector search: %v", model.ErrUpstreamUnavailable, err)
	}
	if selfID != nil {
		filtered := pool[:0]
		for _, c := range pool {
			if c.ID != *selfID {
				filtered = append(filtered, c)
			}
		}
		pool = filtered
	}

	ids := make([]int64, len(pool))
	for i, c := range pool {
		ids[i] = c.ID
	}
	articles, err := x.Articles.Lookup(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: metadata lookup: %v", model.ErrUpstreamUnavailable, err)
	}

	mode := ranking.ModeFused
	if req.SemanticOnly {
		mode = ranking.ModeSemanticOnly
	}
	ranked := x.Ranker.Rank(query, pool, articles, mode)
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	resp := &RelatedResponse{
		Query:      query,
		QueryID:    selfID,
		Results:    make([]Result, 0, len(ranked)),
		CrossEdges: []model.TitledEdge{},
	}
	newIDs := make([]int64, 0, len(ranked))
	for _, rc := range ranked {
		r := Result{
			ID:         rc.ID,
			Title:      identity.DisplayTitle(rc.Title),
			Key:        identity.Key(rc.Title),
			Score:      int(rc.Score * 100),
			ScoreFloat: rc.Score,
		}
		if req.Debug {
			r.Debug = &Signals{SignalBreakdown: rc.Signals, Similarity: rc.Similarity}
		}
		resp.Results = append(resp.Results, r)
		newIDs = append(newIDs, rc.ID)
	}

	if len(newIDs) > 0 {
		existing := x.resolveRefs(ctx, req.Context)
		edges, err := x.Connector.Connect(ctx, newIDs, existing, connectivity.Options{Identity: req.Identity})
		if err != nil {
			x.log.Warn("cross-edge discovery failed", "error", err)
		} else {
			resp.CrossEdges = displayEdges(edges)
		}
	}

	if req.Identity != nil {
		if err := x.Edges.IncrementSearches(ctx, *req.Identity); err != nil {
			x.log.Warn("failed to count search", "identity", req.Identity.String(), "error", err)
		}
	}

	x.log.Info("related query served",
		"query", query,
		"pool", len(pool),
		"results", len(resp.Results),
		"cross_edges", len(resp.CrossEdges),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// Connect finds cross-edges for callers that already hold article ids.
// Unset fields of opts use the configured threshold and per-node cap.
func (x *Explorer) Connect(ctx context.Context, newIDs, existingIDs []int64, opts connectivity.Options) ([]model.TitledEdge, error) {
	edges, err := x.Connector.Connect(ctx, newIDs, existingIDs, opts)
	if err != nil {
		return nil, err
	}
	return displayEdges(edges), nil
}

type ExpandResponse struct {
	Related     *RelatedResponse `json:"related"`
	Graph       graph.Snapshot   `json:"graph"`
	Stats       []graph.NodeStat `json:"stats"`
	Communities [][]string       `json:"communities"`
}

// Expand runs a related query rooted at req.Query with every node of g as
// context and merges the results and cross-edges into g.
func (x *Explorer) Expand(ctx context.Context, g *graph.Graph, req RelatedRequest) (*ExpandResponse, error) {
	if g == nil {
		g = graph.New()
	}
	req.Context = append(g.ContextRefs(), req.Context...)

	related, err := x.Related(ctx, req)
	if err != nil {
		return nil, err
	}

	hits := make([]graph.Hit, 0, len(related.Results))
	for _, r := range related.Results {
		hits = append(hits, graph.Hit{ID: r.ID, Title: r.Title, Score: r.ScoreFloat})
	}
	g.Merge(related.Query, related.QueryID, hits, related.CrossEdges)

	communities, err := g.Communities(x.Detector)
	if err != nil {
		x.log.Warn("community detection failed", "error", err)
		communities = nil
	}
	if communities == nil {
		communities = [][]string{}
	}
	return &ExpandResponse{
		Related:     related,
		Graph:       g.Snapshot(),
		Stats:       g.Stats(),
		Communities: communities,
	}, nil
}

type ArticleDetails struct {
	model.Article
	Key              string           `json:"key"`
	NormalizedScores NormalizedScores `json:"normalized_scores"`
}

type NormalizedScores struct {
	PageRank  float64 `json:"pagerank"`
	PageViews float64 `json:"pageviews"`
}

// Article looks up a single article by title.
func (x *Explorer) Article(ctx context.Context, title string) (*ArticleDetails, error) {
	key := identity.Key(title)
	if key == "" {
		return nil, fmt.Errorf("%w: title must not be empty", model.ErrInvalidInput)
	}
	ids, err := x.Articles.ResolveKeys(ctx, []string{key})
	if err != nil {
		return nil, fmt.Errorf("%w: resolve title: %v", model.ErrUpstreamUnavailable, err)
	}
	id, ok := ids[key]
	if !ok {
		return nil, fmt.Errorf("article %q: %w", title, model.ErrNotFound)
	}
	arts, err := x.Articles.Lookup(ctx, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("%w: metadata lookup: %v", model.ErrUpstreamUnavailable, err)
	}
	a, ok := arts[id]
	if !ok {
		return nil, fmt.Errorf("article %d: %w", id, model.ErrNotFound)
	}
	return &ArticleDetails{
		Article: a,
		Key:     key,
		NormalizedScores: NormalizedScores{
			PageRank:  ranking.NormalizePageRank(a.PageRank),
			PageViews: x.Ranker.NormalizePageViews(a.PageViews),
		},
	}, nil
}

type Health struct {
	Status            string             `json:"status"`
	Signals           metadata.Signals   `json:"available_signals"`
	Weights           map[string]float64 `json:"ranking_weights"`
	Threshold         float64            `json:"connectivity_threshold"`
	ConnectivityReady bool               `json:"connectivity_enabled"`
	CandidatePoolSize int                `json:"candidate_pool_size"`
	DefaultResults    int                `json:"default_results"`
}

func (x *Explorer) Health() Health {
	w := x.cfg.Ranking
	return Health{
		Status:  "ok",
		Signals: x.Articles.Signals(),
		Weights: map[string]float64{
			"semantic":    w.WeightSemantic,
			"pagerank":    w.WeightPageRank,
			"pageviews":   w.WeightPageViews,
			"title_match": w.WeightTitleMatch,
		},
		Threshold:         x.cfg.Connectivity.Threshold,
		ConnectivityReady: x.Index.CanReconstruct(),
		CandidatePoolSize: x.cfg.Search.CandidatePoolSize,
		DefaultResults:    x.cfg.Search.ResultsToReturn,
	}
}

// resolveOne maps a title to its article id. Lookup failures are treated as
// unknown.
func (x *Explorer) resolveOne(ctx context.Context, title string) *int64 {
	key := identity.Key(title)
	ids, err := x.Articles.ResolveKeys(ctx, []string{key})
	if err != nil {
		x.log.Warn("title resolution failed", "error", err)
		return nil
	}
	if id, ok := ids[key]; ok {
		return &id
	}
	return nil
}

// resolveRefs turns context references into article ids. Unknown titles
// are dropped.
func (x *Explorer) resolveRefs(ctx context.Context, refs []string) []int64 {
	ids, keys := identity.ParseRefs(refs)
	if len(keys) == 0 {
		return ids
	}
	resolved, err := x.Articles.ResolveKeys(ctx, keys)
	if err != nil {
		x.log.Warn("context resolution failed", "error", err)
		return ids
	}
	for _, k := range keys {
		if id, ok := resolved[k]; ok {
			ids = append(ids, id)
		}
	}
	return identity.DedupeIDs(ids)
}

func displayEdges(edges []model.TitledEdge) []model.TitledEdge {
	out := make([]model.TitledEdge, len(edges))
	for i, e := range edges {
		e.Source = identity.DisplayTitle(e.Source)
		e.Target = identity.DisplayTitle(e.Target)
		out[i] = e
	}
	return out
}
