package cluster

import "sort"

// LabelPropagationDetector clusters with label propagation weighted by pair
// similarity. Unlike ComponentDetector it can split a long chain of weak
// links into separate groups.
type LabelPropagationDetector struct {
	MaxIterations int
}

func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{
		MaxIterations: 20,
	}
}

func (d *LabelPropagationDetector) Detect(n int, edges []Edge) [][]int {
	if n == 0 {
		return nil
	}
	adj := adjacency(n, edges)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}

	for iter := 0; iter < d.MaxIterations; iter++ {
		changed := 0
		for u := 0; u < n; u++ {
			if len(adj[u]) == 0 {
				continue
			}

			// Sum in index order so rounding, and with it tie breaking, is stable.
			neighbours := make([]int, 0, len(adj[u]))
			for v := range adj[u] {
				neighbours = append(neighbours, v)
			}
			sort.Ints(neighbours)

			weights := make(map[int]float64)
			best := 0.0
			for _, v := range neighbours {
				weights[labels[v]] += adj[u][v]
				if weights[labels[v]] > best {
					best = weights[labels[v]]
				}
			}

			var candidates []int
			for label, w := range weights {
				if w == best {
					candidates = append(candidates, label)
				}
			}
			sort.Ints(candidates)

			// Keep the current label on ties, otherwise take the smallest.
			next := candidates[0]
			for _, c := range candidates {
				if c == labels[u] {
					next = c
					break
				}
			}
			if next != labels[u] {
				labels[u] = next
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	byLabel := make(map[int][]int)
	for u, label := range labels {
		byLabel[label] = append(byLabel[label], u)
	}
	groups := make([][]int, 0, len(byLabel))
	for _, g := range byLabel {
		groups = append(groups, g)
	}
	return sortGroups(groups)
}
