package connectivity

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/edgecache"
	"github.com/agenthands/wikigraph/internal/logger"
	"github.com/agenthands/wikigraph/internal/vectorindex"
)

type MockStore struct {
	mu        sync.Mutex
	rows      map[model.Pair]model.CachedEdge
	inserts   int
	credited  map[uuid.UUID]int
	probeErr  error
	insertErr error
}

func NewMockStore(rows ...model.CachedEdge) *MockStore {
	m := &MockStore{rows: make(map[model.Pair]model.CachedEdge), credited: make(map[uuid.UUID]int)}
	for _, r := range rows {
		m.rows[r.Pair()] = r
	}
	return m
}

func (m *MockStore) QueryTouching(ctx context.Context, ids []int64) ([]model.CachedEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probeErr != nil {
		return nil, m.probeErr
	}
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

func (m *MockStore) InsertIfAbsent(ctx context.Context, e model.CachedEdge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	m.inserts++
	if _, ok := m.rows[e.Pair()]; ok {
		return false, nil
	}
	m.rows[e.Pair()] = e
	return true, nil
}

func (m *MockStore) IncrementEdgesDiscovered(ctx context.Context, id uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credited[id] += n
	return nil
}

type titleMap map[int64]string

func (t titleMap) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, id := range ids {
		if s, ok := t[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type noReconstruct struct{}

func (noReconstruct) Reconstruct(ctx context.Context, id int64) ([]float32, error) {
	return nil, vectorindex.ErrReconstructUnsupported
}
func (noReconstruct) CanReconstruct() bool { return false }

type panicky struct{}

func (panicky) Reconstruct(ctx context.Context, id int64) ([]float32, error) { panic("index corrupted") }
func (panicky) CanReconstruct() bool                                        { return true }

var titles = titleMap{
	1: "Graph theory", 2: "Leonhard Euler", 3: "Topology", 4: "Knot theory",
	5: "Network science", 6: "Combinatorics", 7: "Set theory", 8: "Group theory",
	9: "Seven Bridges of Königsberg",
}

func testConfig() config.ConnectivityConfig {
	return config.ConnectivityConfig{Threshold: 0.62, MaxPerNode: 5, ModelVersion: "test-model", ReconstructWorkers: 4}
}

// unit returns a 2-d vector at cosine c from (1, 0).
func unit(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func flatIndex(t *testing.T, vecs map[int64][]float32) *vectorindex.Flat {
	t.Helper()
	f := vectorindex.NewFlat(2)
	for id, v := range vecs {
		require.NoError(t, f.Add(id, v))
	}
	return f
}

func TestConnect_ComputesThenServesFromCache(t *testing.T) {
	store, err := edgecache.OpenSQLite(filepath.Join(t.TempDir(), "edges.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.7)})
	e := NewEngine(idx, store, titles, testConfig(), logger.Nop())

	edges, rep, err := e.ConnectWithReport(context.Background(), []int64{1}, []int64{2}, Options{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "Graph theory", edges[0].Source)
	assert.Equal(t, "Leonhard Euler", edges[0].Target)
	assert.Equal(t, int64(1), edges[0].SourceID)
	assert.InDelta(t, 0.7, edges[0].Score, 1e-5)
	assert.Equal(t, 0, rep.CacheHits)
	assert.Equal(t, 1, rep.Computed)
	assert.Equal(t, 1, rep.Inserted)

	again, rep, err := e.ConnectWithReport(context.Background(), []int64{1}, []int64{2}, Options{})
	require.NoError(t, err)
	assert.Equal(t, edges, again)
	assert.Equal(t, 1, rep.CacheHits)
	assert.Equal(t, 0, rep.Computed)
	assert.Equal(t, 0, rep.Inserted)

	rows, err := store.QueryTouching(context.Background(), []int64{1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "test-model", rows[0].ModelVersion)
}

func TestConnect_BelowThreshold(t *testing.T) {
	store := NewMockStore()
	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.6), 3: unit(0.5)})
	e := NewEngine(idx, store, titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{1}, []int64{2, 3}, Options{})
	require.NoError(t, err)
	assert.Empty(t, edges)
	assert.NotNil(t, edges)
	assert.Zero(t, store.inserts)
}

func TestConnect_CachedOnlyWhenIndexCannotReconstruct(t *testing.T) {
	store := NewMockStore(
		model.CachedEdge{SourceID: 1, TargetID: 2, Score: 0.8},
		model.CachedEdge{SourceID: 1, TargetID: 9, Score: 0.9},
	)
	e := NewEngine(noReconstruct{}, store, titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{1, 3}, []int64{2}, Options{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(2), edges[0].TargetID)
	assert.Zero(t, store.inserts)
}

func TestConnect_KeepsEveryCachedEdgeAboveThreshold(t *testing.T) {
	store := NewMockStore(
		model.CachedEdge{SourceID: 1, TargetID: 2, Score: 0.61},
		model.CachedEdge{SourceID: 1, TargetID: 3, Score: 0.7},
		model.CachedEdge{SourceID: 1, TargetID: 4, Score: 0.75},
		model.CachedEdge{SourceID: 1, TargetID: 5, Score: 0.8},
		model.CachedEdge{SourceID: 1, TargetID: 6, Score: 0.85},
		model.CachedEdge{SourceID: 6, TargetID: 9, Score: 0.9},
	)
	e := NewEngine(noReconstruct{}, store, titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{1}, []int64{2, 3, 4, 5, 6}, Options{MaxPerNode: 2})
	require.NoError(t, err)
	require.Len(t, edges, 4)
	assert.Equal(t, int64(6), edges[0].TargetID)
	assert.Equal(t, int64(3), edges[3].TargetID)
	for _, edge := range edges {
		assert.Greater(t, edge.Score, 0.62)
	}
}

// angle returns the 2-d unit vector deg degrees from (1, 0).
func angle(deg float64) []float32 {
	rad := deg * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad))}
}

func TestConnect_RepeatedCallsAgreeUnderTightCap(t *testing.T) {
	// Row 4 computes (2,4); on the second call node 2 already holds (1,2).
	idx := flatIndex(t, map[int64][]float32{1: angle(0), 2: angle(-25.8), 3: angle(18), 4: angle(-57.6)})
	store := NewMockStore()
	e := NewEngine(idx, store, titles, testConfig(), logger.Nop())
	ids := []int64{1, 2, 3, 4}

	first, rep, err := e.ConnectWithReport(context.Background(), ids, nil, Options{MaxPerNode: 1})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 3, rep.Inserted)
	writes := store.inserts

	second, rep, err := e.ConnectWithReport(context.Background(), ids, nil, Options{MaxPerNode: 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, rep.CacheHits)
	assert.Equal(t, 0, rep.Computed)
	assert.Equal(t, writes, store.inserts)
}

func TestConnect_ThresholdOverride(t *testing.T) {
	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.3)})
	e := NewEngine(idx, NewMockStore(), titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{1}, []int64{2}, Options{})
	require.NoError(t, err)
	assert.Empty(t, edges)

	zero := 0.0
	edges, err = e.Connect(context.Background(), []int64{1}, []int64{2}, Options{Threshold: &zero})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.InDelta(t, 0.3, edges[0].Score, 1e-5)

	for _, bad := range []float64{-0.1, 1, math.NaN()} {
		_, err = e.Connect(context.Background(), []int64{1}, []int64{2}, Options{Threshold: &bad})
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	}
	_, err = e.Connect(context.Background(), []int64{1}, []int64{2}, Options{MaxPerNode: -1})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestConnect_CapsComputedEdgesPerNode(t *testing.T) {
	vecs := map[int64][]float32{1: {1, 0}}
	var existing []int64
	for id := int64(2); id <= 8; id++ {
		vecs[id] = unit(0.7 + float64(id)/100)
		existing = append(existing, id)
	}
	store := NewMockStore()
	e := NewEngine(flatIndex(t, vecs), store, titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{1}, existing, Options{})
	require.NoError(t, err)
	require.Len(t, edges, 5)
	assert.Equal(t, int64(8), edges[0].TargetID)
	assert.Equal(t, 5, store.inserts)
}

func TestConnect_NewNodesConnectToEachOther(t *testing.T) {
	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.9), 3: {0, 1}})
	e := NewEngine(idx, NewMockStore(), titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{2, 1}, []int64{3}, Options{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(1), edges[0].SourceID)
	assert.Equal(t, int64(2), edges[0].TargetID)
}

func TestConnect_OverlapIsTreatedAsNewAndNeverSelfLinked(t *testing.T) {
	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.8)})
	e := NewEngine(idx, NewMockStore(), titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{1, 1}, []int64{1, 2, 2}, Options{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	for _, edge := range edges {
		assert.NotEqual(t, edge.SourceID, edge.TargetID)
		assert.Less(t, edge.SourceID, edge.TargetID)
	}
}

func TestConnect_CreditsIdentity(t *testing.T) {
	store := NewMockStore()
	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.8), 3: unit(0.75)})
	e := NewEngine(idx, store, titles, testConfig(), logger.Nop())
	who := uuid.New()

	_, err := e.Connect(context.Background(), []int64{1}, []int64{2, 3}, Options{Identity: &who})
	require.NoError(t, err)
	assert.Equal(t, 2, store.credited[who])
	for _, r := range store.rows {
		require.NotNil(t, r.CreatedByUserID)
		assert.Equal(t, who, *r.CreatedByUserID)
	}

	_, err = e.Connect(context.Background(), []int64{1}, []int64{2, 3}, Options{Identity: &who})
	require.NoError(t, err)
	assert.Equal(t, 2, store.credited[who])
}

func TestConnect_StorageFailuresDegrade(t *testing.T) {
	store := NewMockStore()
	store.probeErr = errors.New("database is locked")
	store.insertErr = errors.New("database is locked")
	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.8)})
	e := NewEngine(idx, store, titles, testConfig(), logger.Nop())

	edges, rep, err := e.ConnectWithReport(context.Background(), []int64{1}, []int64{2}, Options{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 0, rep.Inserted)
}

func TestConnect_PanicFallsBackToCache(t *testing.T) {
	store := NewMockStore(model.CachedEdge{SourceID: 1, TargetID: 2, Score: 0.8})
	e := NewEngine(panicky{}, store, titles, testConfig(), logger.Nop())

	edges, rep, err := e.ConnectWithReport(context.Background(), []int64{1, 3}, []int64{2, 4}, Options{})
	require.NoError(t, err)
	assert.True(t, rep.Degraded)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(2), edges[0].TargetID)
}

func TestConnect_DropsUnresolvedTitles(t *testing.T) {
	idx := flatIndex(t, map[int64][]float32{1: {1, 0}, 2: unit(0.8), 100: unit(0.9)})
	e := NewEngine(idx, NewMockStore(), titles, testConfig(), logger.Nop())

	edges, err := e.Connect(context.Background(), []int64{1}, []int64{2, 100}, Options{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "Leonhard Euler", edges[0].Target)
}

func TestConnect_InvalidInput(t *testing.T) {
	e := NewEngine(noReconstruct{}, NewMockStore(), titles, testConfig(), logger.Nop())

	_, err := e.Connect(context.Background(), nil, []int64{1}, Options{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = e.Connect(context.Background(), []int64{1}, []int64{-4}, Options{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestAccumulator(t *testing.T) {
	a := newAccumulator()
	assert.True(t, a.put(model.CanonicalPair(2, 1), 0.9))
	assert.False(t, a.put(model.CanonicalPair(1, 2), 0.5))
	assert.True(t, a.put(model.CanonicalPair(1, 3), 0.8))
	assert.Equal(t, 2, a.len())
	assert.Equal(t, 0.9, a.scores[model.CanonicalPair(1, 2)])
}
