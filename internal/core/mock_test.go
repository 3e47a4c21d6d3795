package core

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/agenthands/wikigraph/internal/core/connectivity"
	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/metadata"
	"github.com/agenthands/wikigraph/internal/vectorindex"
)

type MockEmbedder struct {
	Vector []float32
	Err    error
	Texts  []string
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.Texts = append(m.Texts, texts...)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.Vector
	}
	return out, nil
}

type MockIndex struct {
	Pool    []model.Candidate
	Vectors map[int64][]float32
	Err     error
	LastK   int
}

func (m *MockIndex) Search(ctx context.Context, vec []float32, k int) ([]model.Candidate, error) {
	m.LastK = k
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]model.Candidate(nil), m.Pool...), nil
}

func (m *MockIndex) Reconstruct(ctx context.Context, id int64) ([]float32, error) {
	if m.Vectors == nil {
		return nil, vectorindex.ErrReconstructUnsupported
	}
	v, ok := m.Vectors[id]
	if !ok {
		return nil, vectorindex.ErrNotFound
	}
	return v, nil
}

func (m *MockIndex) CanReconstruct() bool { return m.Vectors != nil }

type MockArticles struct {
	Articles  map[int64]model.Article
	LookupErr error
}

func (m *MockArticles) Lookup(ctx context.Context, ids []int64) (map[int64]model.Article, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	out := make(map[int64]model.Article)
	for _, id := range ids {
		if a, ok := m.Articles[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (m *MockArticles) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, id := range ids {
		if a, ok := m.Articles[id]; ok {
			out[id] = a.Title
		}
	}
	return out, nil
}

func (m *MockArticles) ResolveKeys(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, k := range keys {
		for id, a := range m.Articles {
			if identity.Key(a.Title) != k {
				continue
			}
			if cur, ok := out[k]; !ok || id < cur {
				out[k] = id
			}
		}
	}
	return out, nil
}

func (m *MockArticles) Signals() metadata.Signals {
	return metadata.Signals{PageRank: true, PageViews: true}
}

type MockEdges struct {
	mu       sync.Mutex
	rows     map[model.Pair]model.CachedEdge
	searches map[uuid.UUID]int
	credited map[uuid.UUID]int
}

func NewMockEdges() *MockEdges {
	return &MockEdges{
		rows:     make(map[model.Pair]model.CachedEdge),
		searches: make(map[uuid.UUID]int),
		credited: make(map[uuid.UUID]int),
	}
}

func (m *MockEdges) QueryTouching(ctx context.Context, ids []int64) ([]model.CachedEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []model.CachedEdge
	for p, r := range m.rows {
		if want[p.A] || want[p.B] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockEdges) InsertIfAbsent(ctx context.Context, e model.CachedEdge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[e.Pair()]; ok {
		return false, nil
	}
	m.rows[e.Pair()] = e
	return true, nil
}

func (m *MockEdges) IncrementEdgesDiscovered(ctx context.Context, id uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credited[id] += n
	return nil
}

func (m *MockEdges) IncrementSearches(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches[id]++
	return nil
}

// recordingConnector captures the ids handed to Connect.
type recordingConnector struct {
	newIDs      []int64
	existingIDs []int64
	opts        connectivity.Options
	edges       []model.TitledEdge
	err         error
}

func (r *recordingConnector) Connect(ctx context.Context, newIDs, existingIDs []int64, opts connectivity.Options) ([]model.TitledEdge, error) {
	r.newIDs, r.existingIDs, r.opts = newIDs, existingIDs, opts
	return r.edges, r.err
}
