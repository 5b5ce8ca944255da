package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/core/cluster"
	"github.com/agenthands/esgrecon/internal/core/dedupe"
	"github.com/agenthands/esgrecon/internal/core/extraction"
	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/core/reconcile"
	"github.com/agenthands/esgrecon/internal/core/review"
	"github.com/agenthands/esgrecon/internal/driver"
	"github.com/agenthands/esgrecon/internal/llm"
	"github.com/agenthands/esgrecon/internal/logging"
	"github.com/agenthands/esgrecon/internal/metrics"
)

// RuleSource returns the deduplication rule that applies to an import.
type RuleSource interface {
	Active(ctx context.Context, companyID, entity string) (model.Rule, bool, error)
}

// Reconciler runs imports: every incoming record is matched against the
// company's stored records and then created, merged or held for review.
type Reconciler struct {
	Store        driver.RecordStore
	Rules        RuleSource // optional
	Matcher      *reconcile.Matcher
	Deduplicator *dedupe.Deduplicator // nil disables LLM confirmation
	Reviewer     *review.Reviewer
	Extractor    *extraction.Extractor
	Clusterer    cluster.Detector

	DateFields    []string
	ExtractLimit  int
	UUIDGenerator func() string
}

func NewReconciler(store driver.RecordStore, rules RuleSource, llmClient llm.LLMClient, cfg *config.Config) *Reconciler {
	r := &Reconciler{
		Store:         store,
		Rules:         rules,
		Matcher:       reconcile.NewMatcher(reconcile.NewPolicy(cfg.Reconcile)),
		Clusterer:     cluster.NewLabelPropagationDetector(),
		DateFields:    cfg.Reconcile.DateFields,
		ExtractLimit:  cfg.Concurrency.BulkExtract,
		Reviewer:      review.NewReviewer(llmClient, cfg.Review),
		UUIDGenerator: func() string { return uuid.New().String() },
	}
	if llmClient != nil {
		r.Extractor = extraction.NewExtractor(llmClient, cfg.Extraction)
		if cfg.Reconcile.ConfirmWithLLM {
			r.Deduplicator = dedupe.NewDeduplicator(llmClient, cfg.Deduplication)
		}
	}
	return r
}

// importRule is the rule in effect for one import.
type importRule struct {
	keyFields []string
	threshold float64
	ignore    []string
}

func (r *Reconciler) ruleFor(ctx context.Context, companyID, entity string) (importRule, error) {
	rule := importRule{
		threshold: r.Matcher.Policy.MatchThreshold,
		ignore:    r.Matcher.Policy.IgnoreFields,
	}
	if r.Rules == nil {
		return rule, nil
	}

	active, ok, err := r.Rules.Active(ctx, companyID, entity)
	if err != nil {
		return rule, fmt.Errorf("load dedup rule: %w", err)
	}
	if !ok {
		return rule, nil
	}
	rule.keyFields = active.KeyFields
	rule.threshold = active.Threshold
	if len(active.IgnoreFields) > 0 {
		rule.ignore = active.IgnoreFields
	}
	return rule, nil
}

// keyFieldsOf falls back to every non-ignored field of the incoming record
// when no rule names the key fields.
func (ir importRule) keyFieldsOf(rec model.Record) []string {
	if len(ir.keyFields) > 0 {
		return ir.keyFields
	}
	ignored := make(map[string]bool, len(ir.ignore))
	for _, f := range ir.ignore {
		ignored[f] = true
	}
	var keys []string
	for _, k := range rec.Keys() {
		if !ignored[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// Import reconciles records against what the company already has stored.
// Records accepted earlier in the batch are candidates for later ones.
func (r *Reconciler) Import(ctx context.Context, companyID, entity string, records []model.Record) ([]model.Outcome, error) {
	log := logging.FromContext(ctx).With().Str("company_id", companyID).Str("entity", entity).Logger()

	rule, err := r.ruleFor(ctx, companyID, entity)
	if err != nil {
		return nil, err
	}
	existing, err := r.Store.ListRecords(ctx, companyID, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing records: %w", err)
	}

	// On failure the outcomes already persisted are returned with the error.
	outcomes := make([]model.Outcome, 0, len(records))
	for _, incoming := range records {
		outcome, err := r.reconcileOne(ctx, companyID, entity, incoming, rule, &existing)
		if err != nil {
			return outcomes, err
		}
		metrics.RecordImport(entity, string(outcome.Action))
		log.Debug().Str("action", string(outcome.Action)).Str("record_id", outcome.Record.ID()).Msg("Reconciled record")
		outcomes = append(outcomes, outcome)
	}

	log.Info().Int("records", len(records)).Int("existing", len(existing)).Msg("Import finished")
	return outcomes, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, companyID, entity string, incoming model.Record, rule importRule, existing *[]model.Record) (model.Outcome, error) {
	matches := r.Matcher.FindSimilar(incoming, *existing, rule.keyFieldsOf(incoming), rule.threshold)

	if r.Deduplicator != nil && len(matches) > 0 {
		confirmed, err := r.Deduplicator.ConfirmMatches(ctx, incoming, matches)
		if err != nil {
			logging.FromContext(ctx).Warn().Err(err).Msg("LLM confirmation failed, keeping heuristic matches")
		} else {
			matches = confirmed
		}
	}

	if len(matches) == 0 {
		// Every created record gets its own id; the caller's id is kept as source_id.
		rec := incoming.Clone()
		if id := rec.ID(); id != "" && !rec.Has("source_id") {
			rec.Set("source_id", model.String(id))
		}
		rec.Set("id", model.String(r.UUIDGenerator()))
		rec.Set("company_id", model.String(companyID))
		if err := r.Store.SaveRecord(ctx, companyID, entity, rec); err != nil {
			return model.Outcome{}, fmt.Errorf("failed to save record: %w", err)
		}
		*existing = append(*existing, rec)
		return model.Outcome{Record: rec, Action: model.ActionCreated}, nil
	}

	best := matches[0]
	conflicts := reconcile.DetectConflicts(incoming, best.Record, rule.ignore)
	strategy := r.Matcher.SuggestMergeStrategy(conflicts,
		reconcile.RecordDate(incoming, r.DateFields),
		reconcile.RecordDate(best.Record, r.DateFields))
	metrics.ObserveMatch(best.Similarity, len(conflicts))

	outcome := model.Outcome{
		MatchedID: best.Record.ID(),
		Matches:   matches,
		Conflicts: conflicts,
		Strategy:  strategy,
	}

	if strategy == model.MergeManual {
		outcome.Action = model.ActionReview
		outcome.Record = incoming
		outcome.ReviewNote = r.Reviewer.Note(ctx, best.Record, incoming, conflicts)
		return outcome, nil
	}

	merged := reconcile.MergeData(best.Record, incoming, strategy)
	// The stored identity always wins over whatever the incoming row carried.
	merged.Set("id", best.Record.Get("id"))
	merged.Set("company_id", model.String(companyID))

	// The merge is logged first so a stored merge always has its history entry.
	if _, err := r.Store.LogMerge(ctx, companyID, merged.ID(), model.MergeEntry{
		Strategy:   strategy,
		Incoming:   incoming,
		Similarity: best.Similarity,
	}); err != nil {
		return model.Outcome{}, fmt.Errorf("failed to log merge: %w", err)
	}
	if err := r.Store.SaveRecord(ctx, companyID, entity, merged); err != nil {
		return model.Outcome{}, fmt.Errorf("failed to save merged record: %w", err)
	}
	(*existing)[best.Index] = merged

	outcome.Action = model.ActionMerged
	outcome.Record = merged
	return outcome, nil
}

// Clusters groups a batch of records into likely-duplicate sets.
func (r *Reconciler) Clusters(records []model.Record, keyFields []string, threshold float64) [][]int {
	return cluster.Records(r.Clusterer, r.Matcher, records, keyFields, threshold)
}

// ExtractRecords pulls records out of raw document text.
func (r *Reconciler) ExtractRecords(ctx context.Context, documents []string, fields []string) ([]model.Record, error) {
	if r.Extractor == nil {
		return nil, fmt.Errorf("document extraction needs an LLM client")
	}
	batches, err := r.Extractor.ExtractBatch(ctx, documents, fields, r.ExtractLimit)
	if err != nil {
		return nil, err
	}
	var out []model.Record
	for _, b := range batches {
		out = append(out, b...)
	}
	return out, nil
}

// ExtractAndImport extracts records from documents and imports them.
func (r *Reconciler) ExtractAndImport(ctx context.Context, companyID, entity string, documents []string, fields []string) ([]model.Outcome, error) {
	records, err := r.ExtractRecords(ctx, documents, fields)
	if err != nil {
		return nil, err
	}
	return r.Import(ctx, companyID, entity, records)
}

// Record loads one stored record of a company.
func (r *Reconciler) Record(ctx context.Context, companyID, recordID string) (model.Record, bool, error) {
	return r.Store.GetRecord(ctx, companyID, recordID)
}

// History lists the merges applied to a stored record, newest first.
func (r *Reconciler) History(ctx context.Context, companyID, recordID string) ([]model.MergeEntry, error) {
	return r.Store.MergeHistory(ctx, companyID, recordID)
}
