package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/esgrecon/internal/core/model"
)

// ErrRecordNotFound is returned when a record id is unknown for the company.
var ErrRecordNotFound = errors.New("record not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordStore persists reconciled records per company and entity type.
type RecordStore interface {
	SaveRecord(ctx context.Context, companyID, entity string, rec model.Record) error
	ListRecords(ctx context.Context, companyID, entity string) ([]model.Record, error)
	GetRecord(ctx context.Context, companyID, id string) (model.Record, bool, error)
	LogMerge(ctx context.Context, companyID, recordID string, entry model.MergeEntry) (model.MergeEntry, error)
	MergeHistory(ctx context.Context, companyID, recordID string) ([]model.MergeEntry, error)
}

// GraphStore keeps records as :Record nodes with their fields serialized as
// ordered JSON.
type GraphStore struct {
	Driver        GraphDriver
	UUIDGenerator func() string
	Now           func() time.Time
}

func NewGraphStore(d GraphDriver) *GraphStore {
	return &GraphStore{
		Driver:        d,
		UUIDGenerator: func() string { return uuid.New().String() },
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *GraphStore) SaveRecord(ctx context.Context, companyID, entity string, rec model.Record) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("record has no id")
	}
	fields, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}

	params := map[string]any{
		"id":         id,
		"company_id": companyID,
		"entity":     entity,
		"fields":     string(fields),
		"updated_at": s.Now().Format(timeLayout),
	}
	if _, err := s.Driver.ExecuteQuery(ctx, SaveRecordQuery, params); err != nil {
		return fmt.Errorf("save record %s: %w", id, err)
	}
	return nil
}

func (s *GraphStore) ListRecords(ctx context.Context, companyID, entity string) ([]model.Record, error) {
	res, err := s.Driver.ExecuteQuery(ctx, ListRecordsQuery, map[string]any{
		"company_id": companyID,
		"entity":     entity,
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	records := make([]model.Record, 0, len(res.Records))
	for _, row := range res.Records {
		rec, err := decodeRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *GraphStore) GetRecord(ctx context.Context, companyID, id string) (model.Record, bool, error) {
	res, err := s.Driver.ExecuteQuery(ctx, GetRecordQuery, map[string]any{
		"id":         id,
		"company_id": companyID,
	})
	if err != nil {
		return model.Record{}, false, fmt.Errorf("get record %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return model.Record{}, false, nil
	}
	rec, err := decodeRecord(res.Records[0])
	if err != nil {
		return model.Record{}, false, err
	}
	return rec, true, nil
}

// LogMerge attaches a merge entry to a stored record of the company. It
// fails with ErrRecordNotFound when the record does not exist.
func (s *GraphStore) LogMerge(ctx context.Context, companyID, recordID string, entry model.MergeEntry) (model.MergeEntry, error) {
	if entry.UUID == "" {
		entry.UUID = s.UUIDGenerator()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.Now()
	}
	incoming, err := json.Marshal(entry.Incoming)
	if err != nil {
		return entry, fmt.Errorf("encode incoming record: %w", err)
	}

	params := map[string]any{
		"id":         recordID,
		"company_id": companyID,
		"uuid":       entry.UUID,
		"strategy":   string(entry.Strategy),
		"incoming":   string(incoming),
		"similarity": entry.Similarity,
		"created_at": entry.CreatedAt.UTC().Format(timeLayout),
	}
	res, err := s.Driver.ExecuteQuery(ctx, LogMergeQuery, params)
	if err != nil {
		return entry, fmt.Errorf("log merge into %s: %w", recordID, err)
	}
	if len(res.Records) == 0 {
		return entry, fmt.Errorf("log merge into %s: %w", recordID, ErrRecordNotFound)
	}
	return entry, nil
}

func (s *GraphStore) MergeHistory(ctx context.Context, companyID, recordID string) ([]model.MergeEntry, error) {
	res, err := s.Driver.ExecuteQuery(ctx, GetMergeHistoryQuery, map[string]any{
		"id":         recordID,
		"company_id": companyID,
	})
	if err != nil {
		return nil, fmt.Errorf("merge history of %s: %w", recordID, err)
	}

	var entries []model.MergeEntry
	for _, row := range res.Records {
		uuidVal, _ := row.Get("uuid")
		strategy, _ := row.Get("strategy")
		incoming, _ := row.Get("incoming")
		similarity, _ := row.Get("similarity")
		createdAt, _ := row.Get("created_at")

		entry := model.MergeEntry{
			UUID:     asString(uuidVal),
			Strategy: model.MergeStrategy(asString(strategy)),
		}
		if f, ok := similarity.(float64); ok {
			entry.Similarity = f
		}
		if t, err := time.Parse(time.RFC3339Nano, asString(createdAt)); err == nil {
			entry.CreatedAt = t
		}
		if err := json.Unmarshal([]byte(asString(incoming)), &entry.Incoming); err != nil {
			return nil, fmt.Errorf("decode merge %s: %w", entry.UUID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeRecord(row *neo4j.Record) (model.Record, error) {
	id, _ := row.Get("id")
	fields, _ := row.Get("fields")

	var rec model.Record
	if err := json.Unmarshal([]byte(asString(fields)), &rec); err != nil {
		return model.Record{}, fmt.Errorf("decode record %v: %w", id, err)
	}
	if !rec.Has("id") {
		rec.Set("id", model.String(asString(id)))
	}
	return rec, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
