package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/logger"
)

type fakeQdrant struct {
	searches    atomic.Int32
	lastSearch  map[string]any
	points      map[int64][]float32
	scrollEmpty bool
	size        int
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
	}

	mux.HandleFunc("GET /collections/articles", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"config": map[string]any{"params": map[string]any{
			"vectors": map[string]any{"size": f.size, "distance": "Cosine"},
		}}})
	})
	mux.HandleFunc("POST /collections/articles/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastSearch))
		reply(w, []map[string]any{
			{"id": 12, "score": 0.91},
			{"id": "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", "score": 0.9},
			{"id": 7, "score": 0.5},
		})
	})
	mux.HandleFunc("POST /collections/articles/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		if f.scrollEmpty {
			reply(w, map[string]any{"points": []any{}})
			return
		}
		reply(w, map[string]any{"points": []map[string]any{{"id": 1, "vector": []float32{1, 0, 0}}}})
	})
	mux.HandleFunc("POST /collections/articles/points", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []int64 `json:"ids"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := []map[string]any{}
		for _, id := range req.IDs {
			if v, ok := f.points[id]; ok {
				out = append(out, map[string]any{"id": id, "vector": v})
			}
		}
		reply(w, out)
	})
	return mux
}

func newFake(t *testing.T, f *fakeQdrant, reconstruct string) *Qdrant {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.IndexConfig{
		Provider:    "qdrant",
		URL:         srv.URL,
		Collection:  "articles",
		VectorDim:   3,
		Reconstruct: reconstruct,
	}
	q, err := newQdrant(context.Background(), cfg, logger.Nop(), srv.Client())
	require.NoError(t, err)
	return q
}

func TestQdrant_Search(t *testing.T) {
	f := &fakeQdrant{size: 3}
	q := newFake(t, f, "auto")

	hits, err := q.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 1001)
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, int64(12), hits[0].ID)
	assert.InDelta(t, 0.91, hits[0].Similarity, 1e-9)
	assert.Equal(t, int64(7), hits[1].ID)

	assert.EqualValues(t, 1, f.searches.Load())
	assert.EqualValues(t, 1001, f.lastSearch["limit"])
	assert.Equal(t, false, f.lastSearch["with_payload"])
}

func TestQdrant_SearchRejectsWrongDimension(t *testing.T) {
	q := newFake(t, &fakeQdrant{size: 3}, "off")
	_, err := q.Search(context.Background(), []float32{1, 2}, 10)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OperationErrorValidation, opErr.Code)
}

func TestQdrant_ReconstructProbe(t *testing.T) {
	f := &fakeQdrant{size: 3, points: map[int64][]float32{4: {0, 1, 0}}}

	q := newFake(t, f, "auto")
	assert.True(t, q.CanReconstruct())

	vec, err := q.Reconstruct(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, vec)

	_, err = q.Reconstruct(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestQdrant_ReconstructDisabled(t *testing.T) {
	f := &fakeQdrant{size: 3, scrollEmpty: true, points: map[int64][]float32{4: {0, 1, 0}}}

	q := newFake(t, f, "auto")
	assert.False(t, q.CanReconstruct())

	_, err := q.Reconstruct(context.Background(), 4)
	assert.ErrorIs(t, err, ErrReconstructUnsupported)

	forced := newFake(t, f, "off")
	assert.False(t, forced.CanReconstruct())
}

func TestQdrant_SizeMismatch(t *testing.T) {
	srv := httptest.NewServer((&fakeQdrant{size: 768}).handler(t))
	defer srv.Close()

	cfg := config.IndexConfig{URL: srv.URL, Collection: "articles", VectorDim: 384, Reconstruct: "off"}
	_, err := newQdrant(context.Background(), cfg, logger.Nop(), srv.Client())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector size mismatch")
}

func TestQdrant_HTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found: Collection articles"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.IndexConfig{URL: srv.URL, Collection: "articles", Reconstruct: "off"}
	_, err := newQdrant(context.Background(), cfg, logger.Nop(), srv.Client())

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, http.StatusNotFound, opErr.StatusCode)
}

func TestDecodeVector(t *testing.T) {
	v, err := decodeVector(json.RawMessage(`[1,2]`), "")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)

	v, err = decodeVector(json.RawMessage(`{"dense":[3,4]}`), "dense")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, v)

	_, err = decodeVector(json.RawMessage(`{"dense":[3,4]}`), "sparse")
	assert.Error(t, err)

	_, err = decodeVector(nil, "")
	assert.Error(t, err)
}
