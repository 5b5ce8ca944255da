package reconcile

import (
	"sort"

	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/core/similarity"
)

// Matcher scores candidate records over a set of key fields.
type Matcher struct {
	Policy Policy
}

func NewMatcher(p Policy) *Matcher {
	return &Matcher{Policy: p}
}

// FindSimilarRecords uses the default policy with the given threshold.
func FindSimilarRecords(newRecord model.Record, existing []model.Record, keyFields []string, threshold float64) []model.Match {
	return NewMatcher(DefaultPolicy()).FindSimilar(newRecord, existing, keyFields, threshold)
}

// FindSimilar returns the candidates whose average key-field similarity is
// at least threshold, best first. Only key fields with a non-empty value on
// both sides are averaged; candidates with no such field are skipped.
func (m *Matcher) FindSimilar(newRecord model.Record, existing []model.Record, keyFields []string, threshold float64) []model.Match {
	var matches []model.Match
	for i, candidate := range existing {
		score, ok := m.Score(newRecord, candidate, keyFields)
		if !ok || score < threshold {
			continue
		}
		matches = append(matches, model.Match{Record: candidate, Similarity: score, Index: i})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// Score averages the per-field similarity of a and b over keyFields. ok is
// false when no field could be compared.
func (m *Matcher) Score(a, b model.Record, keyFields []string) (score float64, ok bool) {
	var total float64
	compared := 0
	for _, field := range keyFields {
		av := a.Get(field).String()
		bv := b.Get(field).String()
		switch {
		case av != "" && bv != "":
			total += similarity.Similarity(av, bv)
			compared++
		case m.Policy.PenalizeMissing && (av != "" || bv != ""):
			compared++
		}
	}
	if compared == 0 {
		return 0, false
	}
	return total / float64(compared), true
}
