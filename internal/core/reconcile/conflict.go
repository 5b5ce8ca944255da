package reconcile

import (
	"strings"

	"github.com/agenthands/esgrecon/internal/core/model"
)

// DefaultIgnoreFields are bookkeeping columns never reported as conflicts.
var DefaultIgnoreFields = []string{"id", "source_id", "created_at", "updated_at", "company_id"}

// DetectConflicts lists the fields of newData whose value differs from the
// one in existing. Both values must be non-null and differ ignoring case.
// A nil ignoreFields means DefaultIgnoreFields.
func DetectConflicts(newData, existing model.Record, ignoreFields []string) []model.Conflict {
	if ignoreFields == nil {
		ignoreFields = DefaultIgnoreFields
	}
	ignored := make(map[string]struct{}, len(ignoreFields))
	for _, f := range ignoreFields {
		ignored[f] = struct{}{}
	}

	var conflicts []model.Conflict
	for _, field := range newData.Keys() {
		if _, skip := ignored[field]; skip {
			continue
		}
		nv := newData.Get(field)
		ov := existing.Get(field)
		if nv.IsNull() || ov.IsNull() {
			continue
		}
		if strings.ToLower(nv.String()) != strings.ToLower(ov.String()) {
			conflicts = append(conflicts, model.Conflict{Field: field, Old: ov, New: nv})
		}
	}
	return conflicts
}

// DetectConflicts uses the policy ignore list.
func (m *Matcher) DetectConflicts(newData, existing model.Record) []model.Conflict {
	ignore := m.Policy.IgnoreFields
	if ignore == nil {
		ignore = []string{}
	}
	return DetectConflicts(newData, existing, ignore)
}
