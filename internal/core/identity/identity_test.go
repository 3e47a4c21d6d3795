package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	cases := map[string]string{
		"Graph_theory":        "graph theory",
		"  Graph   Theory ":   "graph theory",
		"GRAPH\ttheory":       "graph theory",
		"Eulerian_path":       "eulerian path",
		"":                    "",
		"Seven_Bridges__of_K": "seven bridges of k",
	}
	for in, want := range cases {
		assert.Equal(t, want, Key(in), in)
	}
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "Graph_theory", DisplayTitle("Graph theory"))
	assert.Equal(t, "Graph_theory", DisplayTitle(" Graph_theory "))
}

func TestSame(t *testing.T) {
	assert.True(t, Same("Graph_theory", "graph theory"))
	assert.False(t, Same("Graph theory", "Graph"))
}

func TestParseRefs(t *testing.T) {
	ids, keys := ParseRefs([]string{"42", "Graph_theory", "graph theory", " 42 ", "", "7", "-3", "Euler"})
	assert.Equal(t, []int64{42, 7}, ids)
	assert.Equal(t, []string{"graph theory", "-3", "euler"}, keys)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 2}, DedupeIDs([]int64{3, 1, 3, 2, 1}))
	assert.Equal(t, []string{"Graph_theory", "Euler"}, DedupeTitles([]string{"Graph_theory", "graph theory", "Euler", " "}))
}
