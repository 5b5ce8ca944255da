// Package review writes the notes attached to imports that need a human
// to settle conflicting fields.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/core/common"
	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/llm"
	"github.com/agenthands/esgrecon/internal/logging"
)

const defaultPrompt = `An incoming record matched an existing record but too many fields disagree to merge automatically.

<EXISTING>
%s
</EXISTING>

<INCOMING>
%s
</INCOMING>

<CONFLICTS>
%s
</CONFLICTS>

Write a short note for the person reviewing this merge.
Return a JSON object: {"summary": "..."}`

type Reviewer struct {
	LLM     llm.LLMClient // optional
	Prompts config.ReviewPrompts
}

func NewReviewer(llmClient llm.LLMClient, prompts config.ReviewPrompts) *Reviewer {
	return &Reviewer{
		LLM:     llmClient,
		Prompts: prompts,
	}
}

// Note returns a review note for a match that could not be merged. It never
// fails: without an LLM, or when the LLM answer is unusable, it falls back
// to FallbackNote.
func (r *Reviewer) Note(ctx context.Context, existing, incoming model.Record, conflicts []model.Conflict) string {
	if r.LLM == nil {
		return FallbackNote(conflicts)
	}

	note, err := r.generate(ctx, existing, incoming, conflicts)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("record_id", existing.ID()).Msg("Falling back to plain review note")
		return FallbackNote(conflicts)
	}
	return note
}

func (r *Reviewer) generate(ctx context.Context, existing, incoming model.Record, conflicts []model.Conflict) (string, error) {
	promptTemplate := r.Prompts.Conflicts
	if promptTemplate == "" {
		promptTemplate = defaultPrompt
	}

	existingJSON, err := json.Marshal(existing)
	if err != nil {
		return "", err
	}
	incomingJSON, err := json.Marshal(incoming)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(promptTemplate, existingJSON, incomingJSON, listConflicts(conflicts))
	response, err := r.LLM.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate review note: %w", err)
	}

	result, err := common.ParseJSON[model.ReviewSummary](response)
	if err != nil {
		return "", fmt.Errorf("failed to parse review note: %w", err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return "", fmt.Errorf("empty review note")
	}
	return strings.TrimSpace(result.Summary), nil
}

// FallbackNote lists the conflicting fields.
func FallbackNote(conflicts []model.Conflict) string {
	if len(conflicts) == 0 {
		return "Manual review requested."
	}
	fields := make([]string, len(conflicts))
	for i, c := range conflicts {
		fields[i] = c.Field
	}
	return fmt.Sprintf("%d conflicting fields need review: %s.", len(conflicts), strings.Join(fields, ", "))
}

func listConflicts(conflicts []model.Conflict) string {
	var b strings.Builder
	for _, c := range conflicts {
		fmt.Fprintf(&b, "- %s: existing %q, incoming %q\n", c.Field, c.Old.String(), c.New.String())
	}
	return b.String()
}
