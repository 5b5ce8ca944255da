package dedupe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/core/common"
	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/llm"
)

const defaultPrompt = `
<NEW RECORD>
%s
</NEW RECORD>

<CANDIDATES>
%s
</CANDIDATES>

Instructions:
Decide which CANDIDATES describe the same real-world entity as the NEW RECORD.
Return a JSON object with key "verdicts", a list of objects with
"candidate_id" (string), "duplicate" (bool) and "confidence" (float between 0 and 1).
`

// Deduplicator asks an LLM to confirm heuristic matches.
type Deduplicator struct {
	LLM     llm.LLMClient
	Prompts config.DeduplicationPrompts
}

func NewDeduplicator(llmClient llm.LLMClient, prompts config.DeduplicationPrompts) *Deduplicator {
	return &Deduplicator{
		LLM:     llmClient,
		Prompts: prompts,
	}
}

// ConfirmMatches keeps the matches the LLM confirms as duplicates, in their
// original order, with Similarity replaced by the LLM confidence when given.
// Candidates are referred to by their id field, or by position when absent.
func (d *Deduplicator) ConfirmMatches(ctx context.Context, newRecord model.Record, matches []model.Match) ([]model.Match, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	promptTemplate := d.Prompts.Records
	if promptTemplate == "" {
		promptTemplate = defaultPrompt
	}

	newJSON, err := json.Marshal(newRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	prompt := fmt.Sprintf(promptTemplate, newJSON, serializeCandidates(matches))
	response, err := d.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate deduplication result: %w", err)
	}

	result, err := common.ParseJSON[model.DuplicateVerdicts](response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dedupe result: %w", err)
	}

	verdicts := make(map[string]model.DuplicateVerdict, len(result.Verdicts))
	for _, v := range result.Verdicts {
		verdicts[v.CandidateID] = v
	}

	var confirmed []model.Match
	for i, m := range matches {
		v, ok := verdicts[candidateID(m, i)]
		if !ok || !v.Duplicate {
			continue
		}
		if v.Confidence > 0 && v.Confidence <= 1 {
			m.Similarity = v.Confidence
		}
		confirmed = append(confirmed, m)
	}
	return confirmed, nil
}

func candidateID(m model.Match, pos int) string {
	if id := m.Record.ID(); id != "" {
		return id
	}
	return fmt.Sprintf("candidate-%d", pos)
}

func serializeCandidates(matches []model.Match) string {
	var b strings.Builder
	for i, m := range matches {
		fields, err := json.Marshal(m.Record)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- ID: %s, Similarity: %.2f, Record: %s\n", candidateID(m, i), m.Similarity, fields)
	}
	return b.String()
}
