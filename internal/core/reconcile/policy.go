// Package reconcile matches incoming records against existing ones, finds
// field conflicts and merges them. Every function here is pure: bad or
// missing input degrades to no match, no conflict or the conservative
// strategy, never to an error.
package reconcile

import (
	"github.com/agenthands/esgrecon/internal/config"
)

// Policy carries the thresholds that drive matching and merging.
type Policy struct {
	MatchThreshold      float64
	RecencyDays         int
	MinorConflicts      int
	ManualConflicts     int
	PersonNameThreshold float64
	IgnoreFields        []string
	// PenalizeMissing counts a key field present on only one side as a
	// compared field with similarity 0.
	PenalizeMissing bool
}

func DefaultPolicy() Policy {
	return NewPolicy(config.DefaultReconcile())
}

func NewPolicy(cfg config.ReconcileConfig) Policy {
	ignore := make([]string, len(cfg.IgnoreFields))
	copy(ignore, cfg.IgnoreFields)
	return Policy{
		MatchThreshold:      cfg.MatchThreshold,
		RecencyDays:         cfg.RecencyDays,
		MinorConflicts:      cfg.MinorConflicts,
		ManualConflicts:     cfg.ManualConflicts,
		PersonNameThreshold: cfg.PersonNameThreshold,
		IgnoreFields:        ignore,
		PenalizeMissing:     cfg.MissingFields == config.MissingFieldsMismatch,
	}
}
