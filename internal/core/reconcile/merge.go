package reconcile

import (
	"github.com/agenthands/esgrecon/internal/core/model"
)

// MergeData combines existing and incoming field by field. The result keeps
// the field order of existing followed by fields only incoming carries.
// merge_manual and unknown strategies return existing untouched.
func MergeData(existing, incoming model.Record, strategy model.MergeStrategy) model.Record {
	out := existing.Clone()
	for _, field := range incoming.Keys() {
		nv := incoming.Get(field)
		switch strategy {
		case model.UseNew:
			out.Set(field, nv)
		case model.KeepExisting:
			if out.Get(field).IsNull() {
				out.Set(field, nv)
			}
		case model.PreferNonEmpty:
			if !nv.IsEmpty() {
				out.Set(field, nv)
			}
		}
	}
	return out
}
