package community

import "sort"

// Link is an undirected, weighted connection between two node keys.
type Link struct {
	Source string
	Target string
	Weight float64
}

type Detector interface {
	Detect(nodes []string, links []Link) ([][]string, error)
}

// ComponentDetector groups nodes into connected components.
type ComponentDetector struct{}

func NewComponentDetector() *ComponentDetector {
	return &ComponentDetector{}
}

// NewDetector returns the default detector.
func NewDetector() Detector {
	return NewLabelPropagationDetector()
}

func (d *ComponentDetector) Detect(nodes []string, links []Link) ([][]string, error) {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n] = true
	}

	adj := make(map[string][]string)
	for _, l := range links {
		// Only links whose endpoints are both in the node set count.
		if !known[l.Source] || !known[l.Target] || l.Source == l.Target {
			continue
		}
		adj[l.Source] = append(adj[l.Source], l.Target)
		adj[l.Target] = append(adj[l.Target], l.Source)
	}

	visited := make(map[string]bool)
	var communities [][]string
	for _, n := range nodes {
		if visited[n] {
			continue
		}
		var component []string
		d.dfs(n, adj, visited, &component)
		if len(component) >= 2 {
			communities = append(communities, component)
		}
	}
	return sortCommunities(communities), nil
}

func (d *ComponentDetector) dfs(u string, adj map[string][]string, visited map[string]bool, component *[]string) {
	visited[u] = true
	*component = append(*component, u)
	for _, v := range adj[u] {
		if !visited[v] {
			d.dfs(v, adj, visited, component)
		}
	}
}

// sortCommunities orders members by key and communities by size, largest
// first.
func sortCommunities(cs [][]string) [][]string {
	for _, c := range cs {
		sort.Strings(c)
	}
	sort.Slice(cs, func(i, j int) bool {
		if len(cs[i]) != len(cs[j]) {
			return len(cs[i]) > len(cs[j])
		}
		return cs[i][0] < cs[j][0]
	})
	return cs
}
