// Package graph holds the caller-owned exploration graph that accumulates
// ranked results and cross-edges across expansions. Nodes are keyed by the
// canonical title key so the same article never appears twice.
package graph

import (
	"sort"
	"strconv"

	"github.com/agenthands/wikigraph/internal/core/community"
	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
)

type EdgeKind string

const (
	// KindResult links a query root to one of its ranked results.
	KindResult EdgeKind = "result"
	// KindSemantic is a cross-edge found by the connectivity engine.
	KindSemantic EdgeKind = "semantic"
)

type Node struct {
	Key        string `json:"key"`
	Title      string `json:"title"`
	ID         *int64 `json:"id,omitempty"`
	Depth      int    `json:"depth"`
	Expansions int    `json:"expansions"`
}

// Edge is undirected; Source holds the smaller key.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Weight float64  `json:"weight"`
	Kind   EdgeKind `json:"kind"`
}

// Hit is a ranked result being merged into the graph.
type Hit struct {
	ID    int64
	Title string
	Score float64
}

type edgeKey struct{ a, b string }

func keyPair(a, b string) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a: a, b: b}
}

// Graph is not safe for concurrent use.
type Graph struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[edgeKey]*Edge
	edgeOrder []edgeKey
}

func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*Edge),
	}
}

// AddNode inserts a node for title or returns the existing one. A known id
// fills in a node that had none.
func (g *Graph) AddNode(title string, id *int64, depth int) *Node {
	k := identity.Key(title)
	if k == "" {
		return nil
	}
	if n, ok := g.nodes[k]; ok {
		if n.ID == nil && id != nil {
			v := *id
			n.ID = &v
		}
		return n
	}
	n := &Node{Key: k, Title: identity.DisplayTitle(title), Depth: depth}
	if id != nil {
		v := *id
		n.ID = &v
	}
	g.nodes[k] = n
	g.nodeOrder = append(g.nodeOrder, k)
	return n
}

func (g *Graph) Node(title string) (*Node, bool) {
	n, ok := g.nodes[identity.Key(title)]
	return n, ok
}

// AddEdge links two existing nodes. Self-loops and unknown endpoints are
// ignored. A repeated pair keeps its kind and the larger weight.
func (g *Graph) AddEdge(a, b string, weight float64, kind EdgeKind) bool {
	ka, kb := identity.Key(a), identity.Key(b)
	if ka == kb {
		return false
	}
	if _, ok := g.nodes[ka]; !ok {
		return false
	}
	if _, ok := g.nodes[kb]; !ok {
		return false
	}
	k := keyPair(ka, kb)
	if e, ok := g.edges[k]; ok {
		if weight > e.Weight {
			e.Weight = weight
		}
		return false
	}
	g.edges[k] = &Edge{Source: k.a, Target: k.b, Weight: weight, Kind: kind}
	g.edgeOrder = append(g.edgeOrder, k)
	return true
}

// Merge adds one expansion: the root, its ranked hits one level deeper, and
// the cross-edges among everything now in the graph.
func (g *Graph) Merge(root string, rootID *int64, hits []Hit, cross []model.TitledEdge) {
	depth := 0
	if len(g.nodes) > 0 {
		depth = 1
	}
	r := g.AddNode(root, rootID, depth)
	if r == nil {
		return
	}
	r.Expansions++

	for _, h := range hits {
		id := h.ID
		if g.AddNode(h.Title, &id, r.Depth+1) == nil {
			continue
		}
		g.AddEdge(root, h.Title, h.Score, KindResult)
	}
	for _, e := range cross {
		g.AddEdge(e.Source, e.Target, e.Score, KindSemantic)
	}
}

// ContextRefs lists node references for a related query: the article id when
// known, otherwise the canonical key.
func (g *Graph) ContextRefs() []string {
	refs := make([]string, 0, len(g.nodeOrder))
	for _, k := range g.nodeOrder {
		n := g.nodes[k]
		if n.ID != nil {
			refs = append(refs, strconv.FormatInt(*n.ID, 10))
			continue
		}
		refs = append(refs, k)
	}
	return refs
}

func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodeOrder))
	for _, k := range g.nodeOrder {
		out = append(out, *g.nodes[k])
	}
	return out
}

func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edgeOrder))
	for _, k := range g.edgeOrder {
		out = append(out, *g.edges[k])
	}
	return out
}

type NodeStat struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	// Degree counts edges of both kinds.
	Degree int `json:"degree"`
	// Connectivity is the sum of neighbor degrees.
	Connectivity int `json:"connectivity"`
	Depth        int `json:"depth"`
	Expansions   int `json:"expansions"`
}

// Stats reports per-node degree figures, highest degree first.
func (g *Graph) Stats() []NodeStat {
	degree := make(map[string]int, len(g.nodes))
	neighbors := make(map[string][]string, len(g.nodes))
	for _, k := range g.edgeOrder {
		degree[k.a]++
		degree[k.b]++
		neighbors[k.a] = append(neighbors[k.a], k.b)
		neighbors[k.b] = append(neighbors[k.b], k.a)
	}

	out := make([]NodeStat, 0, len(g.nodeOrder))
	for _, k := range g.nodeOrder {
		n := g.nodes[k]
		conn := 0
		for _, v := range neighbors[k] {
			conn += degree[v]
		}
		out = append(out, NodeStat{
			Key:          k,
			Title:        n.Title,
			Degree:       degree[k],
			Connectivity: conn,
			Depth:        n.Depth,
			Expansions:   n.Expansions,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Degree != out[j].Degree {
			return out[i].Degree > out[j].Degree
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Communities clusters node keys with d. Singletons are dropped.
func (g *Graph) Communities(d community.Detector) ([][]string, error) {
	links := make([]community.Link, 0, len(g.edgeOrder))
	for _, k := range g.edgeOrder {
		e := g.edges[k]
		links = append(links, community.Link{Source: e.Source, Target: e.Target, Weight: e.Weight})
	}
	return d.Detect(append([]string(nil), g.nodeOrder...), links)
}

// Snapshot is the wire form of a graph.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (g *Graph) Snapshot() Snapshot {
	return Snapshot{Nodes: g.Nodes(), Edges: g.Edges()}
}

// FromSnapshot rebuilds a graph. Nodes are re-keyed and edges whose
// endpoints are missing are dropped.
func FromSnapshot(s Snapshot) *Graph {
	g := New()
	for _, n := range s.Nodes {
		title := n.Title
		if title == "" {
			title = n.Key
		}
		if added := g.AddNode(title, n.ID, n.Depth); added != nil && added.Expansions < n.Expansions {
			added.Expansions = n.Expansions
		}
	}
	for _, e := range s.Edges {
		kind := e.Kind
		if kind == "" {
			kind = KindSemantic
		}
		g.AddEdge(e.Source, e.Target, e.Weight, kind)
	}
	return g
}
