package reconcile

import (
	"strings"
	"unicode"

	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/core/similarity"
)

// IsSamePerson applies the default policy.
func IsSamePerson(a, b model.Record) bool {
	return NewMatcher(DefaultPolicy()).IsSamePerson(a, b)
}

// IsSamePerson checks identity in tiers. When both records carry a CPF it
// decides alone; otherwise email, then name similarity. A CPF with no digits
// ("N/A", "-") counts as absent.
func (m *Matcher) IsSamePerson(a, b model.Record) bool {
	if ca, cb := normalizeCPF(a.Get("cpf").String()), normalizeCPF(b.Get("cpf").String()); ca != "" && cb != "" {
		return ca == cb
	}
	if ea, eb := normalizeEmail(a.Get("email").String()), normalizeEmail(b.Get("email").String()); ea != "" && eb != "" {
		return ea == eb
	}
	na, nb := a.Get("name").String(), b.Get("name").String()
	if na != "" && nb != "" {
		return similarity.Similarity(na, nb) > m.Policy.PersonNameThreshold
	}
	return false
}

func normalizeCPF(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
