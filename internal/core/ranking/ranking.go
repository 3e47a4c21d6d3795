// Package ranking fuses semantic similarity with authority, popularity and
// title signals into a single score per candidate.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
)

type Mode int

const (
	// ModeFused ranks by the weighted geometric mean of all signals.
	ModeFused Mode = iota
	// ModeSemanticOnly ranks by raw similarity; signals are still reported.
	ModeSemanticOnly
)

var metaPrefixes = []string{
	"wikipedia:", "template:", "category:", "portal:", "help:",
	"user:", "talk:", "file:", "mediawiki:", "draft:",
}

var listPrefixes = []string{
	"list of", "index of", "glossary of", "timeline of",
	"outline of", "history of", "bibliography of",
}

var placeTokens = []string{
	"africa", "asia", "europe", "america", "states", "kingdom",
	"china", "india", "russia", "france", "germany", "japan",
	"canada", "australia", "brazil", "mexico", "italy", "spain",
	"california", "texas", "york", "london", "paris", "tokyo",
}

type Ranker struct {
	cfg config.RankingConfig
}

func NewRanker(cfg config.RankingConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank filters and scores a candidate pool. Candidates without metadata,
// meta pages and the query's own article are dropped. Output is sorted by
// score descending, ties by id ascending.
func (r *Ranker) Rank(query string, pool []model.Candidate, articles map[int64]model.Article, mode Mode) []model.RankedCandidate {
	queryKey := identity.Key(query)
	seen := make(map[int64]struct{}, len(pool))
	out := make([]model.RankedCandidate, 0, len(pool))

	for _, c := range pool {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		a, ok := articles[c.ID]
		if !ok || IsMetaPage(a.Title) {
			continue
		}
		if queryKey != "" && identity.Key(a.Title) == queryKey {
			continue
		}

		signals := model.SignalBreakdown{
			Semantic:   c.Similarity,
			PageRank:   NormalizePageRank(a.PageRank),
			PageViews:  r.NormalizePageViews(a.PageViews),
			TitleMatch: r.TitleMatch(a.Title, query),
		}

		var score float64
		if mode == ModeSemanticOnly {
			score = c.Similarity
			signals.ObscurityPenalty = r.obscure(signals)
		} else {
			score, signals.ObscurityPenalty = r.Fuse(signals)
		}

		out = append(out, model.RankedCandidate{
			ID:         c.ID,
			Title:      a.Title,
			Similarity: c.Similarity,
			Score:      score,
			Signals:    signals,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Fuse combines the four signals by weighted geometric mean. Each signal is
// clamped to [epsilon, 1] first so a missing signal lowers the score without
// zeroing it. The second return value reports whether the obscurity penalty
// applied.
func (r *Ranker) Fuse(s model.SignalBreakdown) (float64, bool) {
	w := r.cfg
	score := math.Pow(r.clamp(s.Semantic), w.WeightSemantic) *
		math.Pow(r.clamp(s.PageRank), w.WeightPageRank) *
		math.Pow(r.clamp(s.PageViews), w.WeightPageViews) *
		math.Pow(r.clamp(s.TitleMatch), w.WeightTitleMatch)

	penalized := r.obscure(s)
	if penalized {
		score *= w.ObscurityFactor
	}
	return math.Min(score, 1), penalized
}

func (r *Ranker) obscure(s model.SignalBreakdown) bool {
	return r.clamp(s.PageViews) < r.cfg.ObscurityPageViews && r.clamp(s.PageRank) < r.cfg.ObscurityPageRank
}

func (r *Ranker) clamp(v float64) float64 {
	if math.IsNaN(v) || v < r.cfg.Epsilon {
		return r.cfg.Epsilon
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizePageRank maps the corpus pagerank (0..100) linearly onto [0,1].
func NormalizePageRank(pr *float64) float64 {
	if pr == nil || *pr <= 0 || math.IsNaN(*pr) {
		return 0
	}
	return math.Min(*pr/100, 1)
}

// NormalizePageViews maps monthly views onto [0,1] on a log scale. Counts
// below the floor keep a small constant signal; missing or zero maps to 0.
func (r *Ranker) NormalizePageViews(views *int64) float64 {
	if views == nil || *views < 1 {
		return 0
	}
	v := float64(*views)
	if v < r.cfg.PageViewFloor {
		return r.cfg.PageViewFloorScore
	}
	lo, hi := math.Log10(r.cfg.PageViewFloor), math.Log10(r.cfg.PageViewCeiling)
	frac := (math.Log10(v) - lo) / (hi - lo)
	score := r.cfg.PageViewFloorScore + (1-r.cfg.PageViewFloorScore)*frac
	return math.Max(0, math.Min(1, score))
}

// TitleMatch scores how closely a title names the query.
func (r *Ranker) TitleMatch(title, query string) float64 {
	t := identity.Key(title)
	q := identity.Key(query)
	if t == "" {
		return 0
	}
	if t == q {
		return 1
	}

	score := jaccard(strings.Fields(t), strings.Fields(q))
	if q != "" && strings.Contains(t, q) {
		score = math.Min(1, score*1.5)
	}
	// Only a single " in " marks a place suffix; "X in Y in Z" is left alone.
	if parts := strings.Split(t, " in "); len(parts) == 2 && containsAny(parts[1], placeTokens) {
		score *= r.cfg.PlacePenalty
	}
	if startsWithYear(t) {
		score *= r.cfg.YearPenalty
	}
	if hasAnyPrefix(t, listPrefixes) {
		score *= r.cfg.ListPenalty
	}
	return math.Max(0, math.Min(1, score))
}

// IsMetaPage reports administrative namespace pages and disambiguations.
func IsMetaPage(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	return hasAnyPrefix(lower, metaPrefixes) || strings.Contains(lower, "(disambiguation)")
}

func jaccard(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, w := range a {
		set[w] |= 1
	}
	for _, w := range b {
		set[w] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	inter := 0
	for _, m := range set {
		if m == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

func startsWithYear(s string) bool {
	if len(s) < 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
