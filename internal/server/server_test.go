package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/core"
	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/rules"
)

type memStore struct {
	records map[string][]model.Record
	merges  map[string][]model.MergeEntry
	saves   int
	// failAfter makes every save past that count fail; zero disables it.
	failAfter int
}

var errSave = errors.New("disk full")

func newMemStore() *memStore {
	return &memStore{records: map[string][]model.Record{}, merges: map[string][]model.MergeEntry{}}
}

func (m *memStore) SaveRecord(ctx context.Context, companyID, entity string, rec model.Record) error {
	if m.failAfter > 0 && m.saves >= m.failAfter {
		return errSave
	}
	m.saves++
	k := companyID + "/" + entity
	for i, r := range m.records[k] {
		if r.ID() == rec.ID() {
			m.records[k][i] = rec
			return nil
		}
	}
	m.records[k] = append(m.records[k], rec)
	return nil
}

func (m *memStore) ListRecords(ctx context.Context, companyID, entity string) ([]model.Record, error) {
	return append([]model.Record(nil), m.records[companyID+"/"+entity]...), nil
}

func (m *memStore) GetRecord(ctx context.Context, companyID, id string) (model.Record, bool, error) {
	for k, recs := range m.records {
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

func (m *memStore) LogMerge(ctx context.Context, companyID, recordID string, entry model.MergeEntry) (model.MergeEntry, error) {
	entry.UUID = "m-1"
	k := companyID + "/" + recordID
	m.merges[k] = append(m.merges[k], entry)
	return entry, nil
}

func (m *memStore) MergeHistory(ctx context.Context, companyID, recordID string) ([]model.MergeEntry, error) {
	return m.merges[companyID+"/"+recordID], nil
}

type fakeLLM struct{ response string }

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f.response, nil
}

func setupServer(t *testing.T, llmResponse string) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ruleStore, err := rules.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ruleStore.Close() })

	store := newMemStore()
	cfg := config.Default()
	var rec *core.Reconciler
	if llmResponse != "" {
		rec = core.NewReconciler(store, ruleStore, &fakeLLM{response: llmResponse}, cfg)
	} else {
		rec = core.NewReconciler(store, ruleStore, nil, cfg)
	}
	return New(rec, ruleStore).SetupRouter(), store
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthzAndRequestID(t *testing.T) {
	r, _ := setupServer(t, "")

	w := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setupServer(t, "")
	w := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestFindSimilar(t *testing.T) {
	r, _ := setupServer(t, "")

	body := `{
		"record": {"name": "Acme Corp"},
		"existing": [{"id": "1", "name": "Acme Corp."}, {"id": "2", "name": "Globex"}],
		"key_fields": ["name"]
	}`
	w := do(t, r, http.MethodPost, "/reconcile/similar", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Matches []struct {
			Record     map[string]any `json:"record"`
			Similarity float64        `json:"similarity"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "1", resp.Matches[0].Record["id"])
	assert.InDelta(t, 0.9, resp.Matches[0].Similarity, 0.001)
}

func TestFindSimilarRequiresKeyFields(t *testing.T) {
	r, _ := setupServer(t, "")
	w := do(t, r, http.MethodPost, "/reconcile/similar", `{"record": {"name": "x"}, "existing": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/reconcile/similar", `{"record": {"name": "x"}, "key_fields": ["name"], "threshold": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFindSimilarEmptyResultIsList(t *testing.T) {
	r, _ := setupServer(t, "")
	w := do(t, r, http.MethodPost, "/reconcile/similar", `{"record": {"name": "x"}, "existing": [], "key_fields": ["name"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"matches": []}`, w.Body.String())
}

func TestDetectConflicts(t *testing.T) {
	r, _ := setupServer(t, "")

	body := `{"new": {"id": "9", "name": "Acme", "city": "Rio"}, "existing": {"id": "1", "name": "Acme", "city": "SP"}}`
	w := do(t, r, http.MethodPost, "/reconcile/conflicts", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conflicts": [{"field": "city", "old_value": "SP", "new_value": "Rio"}]}`, w.Body.String())

	// An explicit empty ignore list compares ids as well.
	body = `{"new": {"id": "9"}, "existing": {"id": "1"}, "ignore_fields": []}`
	w = do(t, r, http.MethodPost, "/reconcile/conflicts", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conflicts": [{"field": "id", "old_value": "1", "new_value": "9"}]}`, w.Body.String())
}

func TestSuggestStrategy(t *testing.T) {
	r, _ := setupServer(t, "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"no conflicts", `{"conflicts": []}`, "use_new"},
		{"few conflicts", `{"conflicts": [{"field": "a", "old_value": 1, "new_value": 2}]}`, "use_new"},
		{"several conflicts", `{"conflicts": [{"field": "a"}, {"field": "b"}, {"field": "c"}]}`, "keep_existing"},
		{
			"recent data",
			`{"conflicts": [{"field": "a"}, {"field": "b"}, {"field": "c"}], "new_date": "2024-03-01", "existing_date": "2024-01-01"}`,
			"use_new",
		},
		{
			"many conflicts",
			`{"conflicts": [{"field": "a"}, {"field": "b"}, {"field": "c"}, {"field": "d"}, {"field": "e"}, {"field": "f"}]}`,
			"merge_manual",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/reconcile/strategy", tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["strategy"])
		})
	}
}

func TestMerge(t *testing.T) {
	r, _ := setupServer(t, "")

	body := `{"existing": {"id": "1", "name": "Acme", "city": ""}, "new": {"name": "", "city": "Rio"}, "strategy": "prefer_non_empty"}`
	w := do(t, r, http.MethodPost, "/reconcile/merge", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"record": {"id": "1", "name": "Acme", "city": "Rio"}}`, w.Body.String())

	w = do(t, r, http.MethodPost, "/reconcile/merge", `{"existing": {}, "new": {}, "strategy": "bogus"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSamePerson(t *testing.T) {
	r, _ := setupServer(t, "")

	w := do(t, r, http.MethodPost, "/reconcile/same-person", `{"a": {"cpf": "123.456.789-00"}, "b": {"cpf": "12345678900"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["same"])

	w = do(t, r, http.MethodPost, "/reconcile/same-person", `{"a": {"name": "Ana"}, "b": {"name": "Bruno"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["same"])
}

func TestClusters(t *testing.T) {
	r, _ := setupServer(t, "")

	body := `{"records": [{"name": "Acme Corp"}, {"name": "Globex"}, {"name": "Acme Corp."}], "key_fields": ["name"]}`
	w := do(t, r, http.MethodPost, "/reconcile/clusters", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"clusters": [[0, 2], [1]]}`, w.Body.String())
}

func TestImportAndHistory(t *testing.T) {
	r, store := setupServer(t, "")

	body := `{"company_id": "c1", "entity": "supplier", "records": [{"name": "Acme Corp", "city": "Rio"}]}`
	w := do(t, r, http.MethodPost, "/records/import", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, store.records["c1/supplier"], 1)
	id := store.records["c1/supplier"][0].ID()

	body = `{"company_id": "c1", "entity": "supplier", "records": [{"name": "Acme Corp", "city": "Rio", "cnpj": "12.345"}]}`
	w = do(t, r, http.MethodPost, "/records/import", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Outcomes []model.Outcome `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, model.ActionMerged, resp.Outcomes[0].Action)
	assert.Equal(t, id, resp.Outcomes[0].MatchedID)

	w = do(t, r, http.MethodGet, "/records/"+id+"/history?company_id=c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode(t, w)["history"].([]any)
	assert.Len(t, history, 1)

	w = do(t, r, http.MethodGet, "/records/"+id+"/history?company_id=c2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["history"].([]any), "another company sees no history")

	w = do(t, r, http.MethodGet, "/records/"+id+"/history", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRecord(t *testing.T) {
	r, store := setupServer(t, "")

	body := `{"company_id": "c1", "entity": "supplier", "records": [{"id": "erp-1", "name": "Acme Corp"}]}`
	w := do(t, r, http.MethodPost, "/records/import", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := store.records["c1/supplier"][0].ID()
	assert.NotEqual(t, "erp-1", id)

	w = do(t, r, http.MethodGet, "/records/"+id+"?company_id=c1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Record model.Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Acme Corp", resp.Record.Get("name").String())
	assert.Equal(t, "erp-1", resp.Record.Get("source_id").String())

	w = do(t, r, http.MethodGet, "/records/"+id+"?company_id=c2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/records/"+id, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportSameCallerIDAcrossCompanies(t *testing.T) {
	r, store := setupServer(t, "")

	w := do(t, r, http.MethodPost, "/records/import", `{"company_id": "c1", "entity": "supplier", "records": [{"id": "1", "name": "Ana Souza"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodPost, "/records/import", `{"company_id": "c2", "entity": "supplier", "records": [{"id": "1", "name": "Bruno Lima"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	c1, c2 := store.records["c1/supplier"], store.records["c2/supplier"]
	require.Len(t, c1, 1)
	require.Len(t, c2, 1)
	assert.NotEqual(t, c1[0].ID(), c2[0].ID())
	assert.Equal(t, "Ana Souza", c1[0].Get("name").String())
}

func TestImportFailureReturnsPersistedOutcomes(t *testing.T) {
	r, store := setupServer(t, "")
	store.failAfter = 1

	body := `{"company_id": "c1", "entity": "supplier", "records": [{"name": "Acme Corp"}, {"name": "Globex Energia"}]}`
	w := do(t, r, http.MethodPost, "/records/import", body)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp struct {
		Error    string          `json:"error"`
		Outcomes []model.Outcome `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Failed to import records", resp.Error)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, model.ActionCreated, resp.Outcomes[0].Action)
	assert.Equal(t, store.records["c1/supplier"][0].ID(), resp.Outcomes[0].Record.ID())
}

func TestImportRequiresCompany(t *testing.T) {
	r, _ := setupServer(t, "")
	w := do(t, r, http.MethodPost, "/records/import", `{"entity": "supplier", "records": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtract(t *testing.T) {
	r, store := setupServer(t, `{"records": [{"Name": "Acme", "City": "Rio"}]}`)

	w := do(t, r, http.MethodPost, "/documents/extract", `{"documents": ["Acme is in Rio"], "fields": ["name", "city"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"records": [{"name": "Acme", "city": "Rio"}]}`, w.Body.String())

	w = do(t, r, http.MethodPost, "/documents/extract", `{"documents": ["x"], "import": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := `{"company_id": "c1", "entity": "supplier", "documents": ["Acme is in Rio"], "import": true}`
	w = do(t, r, http.MethodPost, "/documents/extract", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, store.records["c1/supplier"], 1)
}

func TestExtractWithoutLLM(t *testing.T) {
	r, _ := setupServer(t, "")
	w := do(t, r, http.MethodPost, "/documents/extract", `{"documents": ["x"]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRulesCRUD(t *testing.T) {
	r, _ := setupServer(t, "")

	w := do(t, r, http.MethodPost, "/rules", `{"company_id": "c1", "entity": "supplier", "key_fields": ["name"], "enabled": true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 0.8, created.Threshold)

	w = do(t, r, http.MethodGet, "/rules/"+created.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/rules?company_id=c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["rules"].([]any), 1)

	w = do(t, r, http.MethodGet, "/rules", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/rules/"+created.ID, `{"company_id": "c1", "entity": "supplier", "key_fields": ["name", "cnpj"], "threshold": 0.9}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, []string{"name", "cnpj"}, updated.KeyFields)
	assert.True(t, updated.Enabled, "omitted enabled keeps the stored value")

	w = do(t, r, http.MethodPut, "/rules/"+created.ID, `{"company_id": "c1", "entity": "supplier", "key_fields": ["name"], "threshold": 2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/rules/missing", `{"company_id": "c1", "entity": "supplier", "key_fields": ["name"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodDelete, "/rules/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/rules/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/rules", `{"entity": "supplier", "key_fields": ["name"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRuleDefaults(t *testing.T) {
	r, _ := setupServer(t, "")

	w := do(t, r, http.MethodPost, "/rules", `{"company_id": "c1", "entity": "supplier", "key_fields": ["name"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rule model.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.True(t, rule.Enabled, "omitted enabled creates an active rule")
	assert.Equal(t, 0.8, rule.Threshold, "omitted threshold takes the configured default")

	w = do(t, r, http.MethodPost, "/rules", `{"company_id": "c1", "entity": "employee", "key_fields": ["cpf"], "threshold": 0, "enabled": false}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, 0.0, rule.Threshold, "an explicit zero threshold is kept")
	assert.False(t, rule.Enabled)

	w = do(t, r, http.MethodPut, "/rules/"+rule.ID, `{"company_id": "c1", "entity": "employee", "key_fields": ["cpf", "email"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, 0.0, rule.Threshold, "omitted threshold keeps the stored value")
	assert.False(t, rule.Enabled)
}
