package model

// Candidate is a raw nearest-neighbour hit from the vector index.
type Candidate struct {
	ID         int64   `json:"id"`
	Similarity float64 `json:"similarity"`
}

type SignalBreakdown struct {
	Semantic         float64 `json:"semantic"`
	PageRank         float64 `json:"pagerank"`
	PageViews        float64 `json:"pageviews"`
	TitleMatch       float64 `json:"title_match"`
	ObscurityPenalty bool    `json:"obscurity_penalty"`
}

type RankedCandidate struct {
	ID         int64           `json:"id"`
	Title      string          `json:"title"`
	Similarity float64         `json:"similarity"`
	Score      float64         `json:"score"` // fused, in (0, 1]
	Signals    SignalBreakdown `json:"signals"`
}
