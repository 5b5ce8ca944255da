package core

import (
	"context"
	"errors"
	"strings"

	"github.com/agenthands/esgrecon/internal/core/model"
)

type MockStore struct {
	Records map[string][]model.Record // company/entity -> records
	Saved   []model.Record
	Merges  map[string][]model.MergeEntry // company/record -> merges
	SaveErr error
	// SaveErrAfter fails every save once that many saves have succeeded.
	SaveErrAfter int
	LogErr       error
}

func NewMockStore() *MockStore {
	return &MockStore{Records: map[string][]model.Record{}, Merges: map[string][]model.MergeEntry{}}
}

func key(companyID, entity string) string { return companyID + "/" + entity }

func (m *MockStore) SaveRecord(ctx context.Context, companyID, entity string, rec model.Record) error {
	if m.SaveErr != nil && len(m.Saved) >= m.SaveErrAfter {
		return m.SaveErr
	}
	m.Saved = append(m.Saved, rec)
	k := key(companyID, entity)
	for i, r := range m.Records[k] {
		if r.ID() == rec.ID() {
			m.Records[k][i] = rec
			return nil
		}
	}
	m.Records[k] = append(m.Records[k], rec)
	return nil
}

func (m *MockStore) ListRecords(ctx context.Context, companyID, entity string) ([]model.Record, error) {
	out := make([]model.Record, len(m.Records[key(companyID, entity)]))
	copy(out, m.Records[key(companyID, entity)])
	return out, nil
}

func (m *MockStore) GetRecord(ctx context.Context, companyID, id string) (model.Record, bool, error) {
	for k, recs := range m.Records {
		if !strings.HasPrefix(k, companyID+"/") {
			continue
		}
		for _, r := range recs {
			if r.ID() == id {
				return r, true, nil
			}
		}
	}
	return model.Record{}, false, nil
}

func (m *MockStore) LogMerge(ctx context.Context, companyID, recordID string, entry model.MergeEntry) (model.MergeEntry, error) {
	if m.LogErr != nil {
		return entry, m.LogErr
	}
	entry.UUID = "merge"
	k := key(companyID, recordID)
	m.Merges[k] = append(m.Merges[k], entry)
	return entry, nil
}

func (m *MockStore) MergeHistory(ctx context.Context, companyID, recordID string) ([]model.MergeEntry, error) {
	return m.Merges[key(companyID, recordID)], nil
}

type MockRules struct {
	Rule model.Rule
	Has  bool
	Err  error
}

func (m *MockRules) Active(ctx context.Context, companyID, entity string) (model.Rule, bool, error) {
	return m.Rule, m.Has, m.Err
}

type MockLLM struct {
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

var errStore = errors.New("store unavailable")
