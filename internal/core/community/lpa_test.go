package community

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triangles(bridge bool) ([]string, []Link) {
	nodes := []string{"1", "2", "3", "4", "5", "6"}
	links := []Link{
		{Source: "1", Target: "2"}, {Source: "2", Target: "3"}, {Source: "3", Target: "1"},
		{Source: "4", Target: "5"}, {Source: "5", Target: "6"}, {Source: "6", Target: "4"},
	}
	if bridge {
		links = append(links, Link{Source: "3", Target: "4"})
	}
	return nodes, links
}

func TestLPA_DisconnectedComponents(t *testing.T) {
	nodes, links := triangles(false)

	communities, err := NewLabelPropagationDetector().Detect(nodes, links)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}}, communities)
}

func TestLPA_BridgeNode(t *testing.T) {
	// The single bridge 3-4 is weaker than each node's triangle ties.
	nodes, links := triangles(true)

	communities, err := NewLabelPropagationDetector().Detect(nodes, links)
	require.NoError(t, err)
	assert.Len(t, communities, 2)
}

func TestLPA_WeightsPullBridgeNode(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	links := []Link{
		{Source: "a", Target: "b", Weight: 0.9},
		{Source: "b", Target: "c", Weight: 0.63},
	}

	communities, err := NewLabelPropagationDetector().Detect(nodes, links)
	require.NoError(t, err)
	require.NotEmpty(t, communities)
	assert.Contains(t, communities[0], "a")
	assert.Contains(t, communities[0], "b")
}

func TestLPA_LargeClique(t *testing.T) {
	nodes := []string{"1", "2", "3", "4", "5"}
	var links []Link
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			links = append(links, Link{Source: nodes[i], Target: nodes[j]})
		}
	}

	communities, err := NewLabelPropagationDetector().Detect(nodes, links)
	require.NoError(t, err)
	require.Len(t, communities, 1)
	assert.Len(t, communities[0], 5)
}

func TestLPA_Empty(t *testing.T) {
	communities, err := NewLabelPropagationDetector().Detect(nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, communities)
}
