package model

// DuplicateVerdict is one entry of the LLM duplicate confirmation answer.
type DuplicateVerdict struct {
	CandidateID string  `json:"candidate_id"`
	Duplicate   bool    `json:"duplicate"`
	Confidence  float64 `json:"confidence"`
}

type DuplicateVerdicts struct {
	Verdicts []DuplicateVerdict `json:"verdicts"`
}

type ExtractedRecords struct {
	Records []Record `json:"records"`
}

type ReviewSummary struct {
	Summary string `json:"summary"`
}
