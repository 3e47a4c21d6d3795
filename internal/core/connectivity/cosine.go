package connectivity

import "math"

// vectorSet holds reconstructed vectors for a list of ids. Ids whose vector
// could not be fetched, or whose dimension disagrees with the set, are left
// out.
type vectorSet struct {
	ids   []int64
	vecs  [][]float32
	norms []float64
}

func (s *vectorSet) add(id int64, v []float32) {
	n := norm(v)
	if n == 0 {
		return
	}
	s.ids = append(s.ids, id)
	s.vecs = append(s.vecs, v)
	s.norms = append(s.norms, n)
}

func (s *vectorSet) len() int { return len(s.ids) }

// cosine is accumulated in float64 so scores near the threshold do not flip
// on rounding.
func cosine(a []float32, na float64, b []float32, nb float64) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	c := dot / (na * nb)
	return math.Max(-1, math.Min(1, c))
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
