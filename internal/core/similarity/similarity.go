// Package similarity scores how close two strings are using edit distance.
package similarity

import "strings"

// LevenshteinDistance returns the minimum number of single-rune insertions,
// deletions or substitutions that turn a into b. Case-sensitive.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity returns a score in [0,1]. Empty input scores 0; inputs equal
// after lowercasing and trimming score 1; otherwise the edit distance is
// normalized by the longer of the two normalized strings.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	na := strings.TrimSpace(strings.ToLower(a))
	nb := strings.TrimSpace(strings.ToLower(b))
	if na == nb {
		return 1
	}

	longest := max(len([]rune(na)), len([]rune(nb)))
	return 1 - float64(LevenshteinDistance(na, nb))/float64(longest)
}
