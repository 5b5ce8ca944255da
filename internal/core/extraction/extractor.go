package extraction

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/core/common"
	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/llm"
)

const defaultPrompt = `Extract structured records from the document below.
Fields to extract: %s

<DOCUMENT>
%s
</DOCUMENT>

Return a JSON object with key "records": a list of objects using exactly the field names above.
Use null when a field is not present in the document.`

type Extractor struct {
	LLM     llm.LLMClient
	Prompts config.ExtractionPrompts
}

func NewExtractor(llmClient llm.LLMClient, prompts config.ExtractionPrompts) *Extractor {
	return &Extractor{
		LLM:     llmClient,
		Prompts: prompts,
	}
}

// ExtractRecords asks the LLM for the records in content. Field names are
// normalized with common.FieldKey; when fields is non-empty, anything else
// is dropped. Records left without a non-null value are discarded.
func (e *Extractor) ExtractRecords(ctx context.Context, content string, fields []string) ([]model.Record, error) {
	promptTemplate := e.Prompts.Records
	if promptTemplate == "" {
		promptTemplate = defaultPrompt
	}

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		if k := common.FieldKey(f); k != "" {
			keys = append(keys, k)
		}
	}

	prompt := fmt.Sprintf(promptTemplate, strings.Join(keys, ", "), content)
	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate records: %w", err)
	}

	result, err := common.ParseJSON[model.ExtractedRecords](response)
	if err != nil {
		return nil, fmt.Errorf("failed to extract records: %w", err)
	}

	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}

	var records []model.Record
	for _, raw := range result.Records {
		rec := model.NewRecord()
		filled := false
		for _, field := range raw.Keys() {
			key := common.FieldKey(field)
			if key == "" || (len(allowed) > 0 && !allowed[key]) {
				continue
			}
			v := raw.Get(field)
			rec.Set(key, v)
			if !v.IsNull() {
				filled = true
			}
		}
		if filled {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ExtractBatch runs ExtractRecords over documents with at most limit
// requests in flight. Results keep the document order; the first failure
// cancels the rest.
func (e *Extractor) ExtractBatch(ctx context.Context, documents []string, fields []string, limit int) ([][]model.Record, error) {
	if limit < 1 {
		limit = 1
	}
	results := make([][]model.Record, len(documents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, doc := range documents {
		g.Go(func() error {
			recs, err := e.ExtractRecords(gctx, doc, fields)
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
