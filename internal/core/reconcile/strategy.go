package reconcile

import (
	"time"

	"github.com/agenthands/esgrecon/internal/core/model"
)

const day = 24 * time.Hour

// SuggestMergeStrategy applies the default policy.
func SuggestMergeStrategy(conflicts []model.Conflict, newDate, existingDate *time.Time) model.MergeStrategy {
	return NewMatcher(DefaultPolicy()).SuggestMergeStrategy(conflicts, newDate, existingDate)
}

// SuggestMergeStrategy picks a disposition from the conflict count and the
// age gap between the two records:
//
//	conflicts <= MinorConflicts              -> use_new
//	new is more than RecencyDays newer       -> use_new
//	conflicts >  ManualConflicts             -> merge_manual
//	otherwise                                -> keep_existing
func (m *Matcher) SuggestMergeStrategy(conflicts []model.Conflict, newDate, existingDate *time.Time) model.MergeStrategy {
	p := m.Policy
	if len(conflicts) <= p.MinorConflicts {
		return model.UseNew
	}
	if newDate != nil && existingDate != nil {
		days := float64(newDate.Sub(*existingDate)) / float64(day)
		if days > float64(p.RecencyDays) {
			return model.UseNew
		}
	}
	if len(conflicts) > p.ManualConflicts {
		return model.MergeManual
	}
	return model.KeepExisting
}

// RecordDate returns the first date-valued field among fields.
func RecordDate(r model.Record, fields []string) *time.Time {
	for _, f := range fields {
		v := r.Get(f)
		if t, ok := v.Date(); ok {
			return &t
		}
		if t, ok := model.ParseDate(v.String()); ok {
			return &t
		}
	}
	return nil
}
