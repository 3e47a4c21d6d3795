package model

// Article is a read-only row of the metadata corpus. Signals are nil when the
// corpus lacks the column or the value for this row.
type Article struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	PageRank  *float64 `json:"pagerank,omitempty"`
	PageViews *int64   `json:"pageviews,omitempty"`
	Backlinks *int64   `json:"backlinks,omitempty"`
}
