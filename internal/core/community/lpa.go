package community

import "sort"

// LabelPropagationDetector finds communities with weighted label propagation.
type LabelPropagationDetector struct {
	MaxIterations int
}

func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{
		MaxIterations: 20,
	}
}

func (d *LabelPropagationDetector) Detect(nodes []string, links []Link) ([][]string, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	// node -> neighbor -> accumulated weight
	adj := make(map[string]map[string]float64, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := adj[n]; ok {
			continue
		}
		adj[n] = make(map[string]float64)
		order = append(order, n)
	}
	for _, l := range links {
		if _, ok := adj[l.Source]; !ok {
			continue
		}
		if _, ok := adj[l.Target]; !ok {
			continue
		}
		if l.Source == l.Target {
			continue
		}
		w := l.Weight
		if w <= 0 {
			w = 1
		}
		adj[l.Source][l.Target] += w
		adj[l.Target][l.Source] += w
	}

	labels := make(map[string]string, len(order))
	for _, n := range order {
		labels[n] = n
	}

	for iter := 0; iter < d.MaxIterations; iter++ {
		changed := 0
		for _, u := range order {
			neighbors := adj[u]
			if len(neighbors) == 0 {
				continue
			}

			weights := make(map[string]float64)
			best := 0.0
			for v, w := range neighbors {
				label := labels[v]
				weights[label] += w
				if weights[label] > best {
					best = weights[label]
				}
			}

			var candidates []string
			for label, w := range weights {
				if w == best {
					candidates = append(candidates, label)
				}
			}
			// Ties go to the lexicographically largest label so runs are
			// reproducible.
			sort.Strings(candidates)
			next := candidates[len(candidates)-1]

			if labels[u] != next {
				labels[u] = next
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	clusters := make(map[string][]string)
	for _, n := range order {
		clusters[labels[n]] = append(clusters[labels[n]], n)
	}
	var communities [][]string
	for _, c := range clusters {
		if len(c) >= 2 {
			communities = append(communities, c)
		}
	}
	return sortCommunities(communities), nil
}
