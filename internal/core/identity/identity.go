// Package identity canonicalizes article titles so graph nodes stay stable
// regardless of whether a caller sent an id, a display title or a raw title.
package identity

import (
	"strconv"
	"strings"
)

// Key returns the canonical key of a title: lowercase, underscores and
// whitespace runs folded into single spaces, trimmed.
func Key(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(title, "_", " "))), " ")
}

// DisplayTitle is the underscore form clients use as a node label.
func DisplayTitle(title string) string {
	return strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
}

// Same reports whether two titles name the same node.
func Same(a, b string) bool {
	return Key(a) == Key(b)
}

// ParseRefs splits mixed caller references into article ids and canonical
// keys. Duplicates and blanks are dropped; first-seen order is kept.
func ParseRefs(refs []string) (ids []int64, keys []string) {
	seenID := make(map[int64]struct{})
	seenKey := make(map[string]struct{})
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id >= 0 {
			if _, ok := seenID[id]; !ok {
				seenID[id] = struct{}{}
				ids = append(ids, id)
			}
			continue
		}
		k := Key(ref)
		if _, ok := seenKey[k]; !ok {
			seenKey[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return ids, keys
}

// DedupeIDs removes repeated ids, keeping first-seen order.
func DedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// DedupeTitles keeps the first title seen for each canonical key.
func DedupeTitles(titles []string) []string {
	seen := make(map[string]struct{}, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		k := Key(t)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
