package vectorindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/agenthands/wikigraph/internal/core/model"
)

// Flat is an exact in-process cosine index. Vectors are normalized on Add so
// Search reduces to a dot product.
type Flat struct {
	mu   sync.RWMutex
	dim  int
	ids  []int64
	vecs [][]float32
	pos  map[int64]int
}

func NewFlat(dim int) *Flat {
	return &Flat{dim: dim, pos: make(map[int64]int)}
}

// Add stores or replaces the vector for id.
func (f *Flat) Add(id int64, vec []float32) error {
	if len(vec) != f.dim {
		return fmt.Errorf("article %d: dimension %d, index holds %d", id, len(vec), f.dim)
	}
	norm := normalize(vec)

	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.pos[id]; ok {
		f.vecs[i] = norm
		return nil
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.vecs = append(f.vecs, norm)
	return nil
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

func (f *Flat) CanReconstruct() bool { return true }

func (f *Flat) Search(ctx context.Context, vec []float32, k int) ([]model.Candidate, error) {
	if len(vec) != f.dim {
		return nil, fmt.Errorf("query dimension %d, index holds %d", len(vec), f.dim)
	}
	q := normalize(vec)

	f.mu.RLock()
	out := make([]model.Candidate, 0, len(f.ids))
	for i, v := range f.vecs {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				f.mu.RUnlock()
				return nil, err
			}
		}
		out = append(out, model.Candidate{ID: f.ids[i], Similarity: dot(q, v)})
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	if k < len(out) {
		out = out[:max(k, 0)]
	}
	return out, nil
}

func (f *Flat) Reconstruct(ctx context.Context, id int64) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.pos[id]
	if !ok {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	out := make([]float32, len(f.vecs[i]))
	copy(out, f.vecs[i])
	return out, nil
}

// LoadFlat reads a dump of little-endian records: a uint32 dimension header
// followed by (int64 id, dim x float32) per article.
func LoadFlat(path string) (*Flat, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector dump: %w", err)
	}
	defer fh.Close()
	return ReadFlat(bufio.NewReader(fh))
}

func ReadFlat(r io.Reader) (*Flat, error) {
	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimension: %w", err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("vector dump declares zero dimension")
	}
	f := NewFlat(int(dim))
	vec := make([]float32, dim)
	for {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			if err == io.EOF {
				return f, nil
			}
			return nil, fmt.Errorf("read id: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read vector for %d: %w", id, err)
		}
		if err := f.Add(id, vec); err != nil {
			return nil, err
		}
	}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
