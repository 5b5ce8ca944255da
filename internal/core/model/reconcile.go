package model

import "time"

type Match struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
	Index      int     `json:"index"` // Position in the candidate slice
}

type Conflict struct {
	Field string `json:"field"`
	Old   Value  `json:"old_value"`
	New   Value  `json:"new_value"`
}

type MergeStrategy string

const (
	UseNew         MergeStrategy = "use_new"
	KeepExisting   MergeStrategy = "keep_existing"
	PreferNonEmpty MergeStrategy = "prefer_non_empty"
	MergeManual    MergeStrategy = "merge_manual"
)

func (s MergeStrategy) Valid() bool {
	switch s {
	case UseNew, KeepExisting, PreferNonEmpty, MergeManual:
		return true
	}
	return false
}

type Action string

const (
	ActionCreated Action = "created"
	ActionMerged  Action = "merged"
	ActionReview  Action = "review"
)

// Outcome is the result of reconciling one incoming record during an import.
type Outcome struct {
	Record     Record        `json:"record"`
	Action     Action        `json:"action"`
	MatchedID  string        `json:"matched_id,omitempty"`
	Matches    []Match       `json:"matches,omitempty"`
	Conflicts  []Conflict    `json:"conflicts,omitempty"`
	Strategy   MergeStrategy `json:"strategy,omitempty"`
	ReviewNote string        `json:"review_note,omitempty"`
}

// Rule configures duplicate detection for one entity type of a company.
type Rule struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id"`
	Entity       string    `json:"entity"`
	KeyFields    []string  `json:"key_fields"`
	Threshold    float64   `json:"threshold"`
	IgnoreFields []string  `json:"ignore_fields,omitempty"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MergeEntry records one automatic merge into a stored record.
type MergeEntry struct {
	UUID       string        `json:"uuid"`
	Strategy   MergeStrategy `json:"strategy"`
	Incoming   Record        `json:"incoming"`
	Similarity float64       `json:"similarity"`
	CreatedAt  time.Time     `json:"created_at"`
}
