// Package cluster groups the records of a batch that look like duplicates
// of one another.
package cluster

import (
	"sort"

	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/core/reconcile"
)

// Edge links two record indices with the similarity of the pair.
type Edge struct {
	A, B   int
	Weight float64
}

type Detector interface {
	Detect(n int, edges []Edge) [][]int
}

// BuildEdges scores every pair of records and keeps those at or above
// threshold.
func BuildEdges(m *reconcile.Matcher, records []model.Record, keyFields []string, threshold float64) []Edge {
	var edges []Edge
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			score, ok := m.Score(records[i], records[j], keyFields)
			if ok && score >= threshold {
				edges = append(edges, Edge{A: i, B: j, Weight: score})
			}
		}
	}
	return edges
}

// Records clusters records with detector d.
func Records(d Detector, m *reconcile.Matcher, records []model.Record, keyFields []string, threshold float64) [][]int {
	return d.Detect(len(records), BuildEdges(m, records, keyFields, threshold))
}

// ComponentDetector groups records by connected component, so duplicates
// are transitive.
type ComponentDetector struct{}

func NewComponentDetector() *ComponentDetector {
	return &ComponentDetector{}
}

func (d *ComponentDetector) Detect(n int, edges []Edge) [][]int {
	adj := adjacency(n, edges)
	visited := make([]bool, n)

	var groups [][]int
	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		var group []int
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			group = append(group, u)
			for v := range adj[u] {
				if !visited[v] {
					visited[v] = true
					stack = append(stack, v)
				}
			}
		}
		sort.Ints(group)
		groups = append(groups, group)
	}
	return groups
}

func adjacency(n int, edges []Edge) []map[int]float64 {
	adj := make([]map[int]float64, n)
	for i := range adj {
		adj[i] = make(map[int]float64)
	}
	for _, e := range edges {
		if e.A < 0 || e.B < 0 || e.A >= n || e.B >= n || e.A == e.B {
			continue
		}
		adj[e.A][e.B] += e.Weight
		adj[e.B][e.A] += e.Weight
	}
	return adj
}

// sortGroups orders members ascending and groups by their first member.
func sortGroups(groups [][]int) [][]int {
	for _, g := range groups {
		sort.Ints(g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}
