// Package rules stores the per-company deduplication rules in SQLite.
package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agenthands/esgrecon/internal/core/model"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
)

const schema = `
CREATE TABLE IF NOT EXISTS dedup_rules (
	id            TEXT PRIMARY KEY,
	company_id    TEXT NOT NULL,
	entity        TEXT NOT NULL,
	key_fields    TEXT NOT NULL,
	threshold     REAL NOT NULL,
	ignore_fields TEXT NOT NULL,
	enabled       INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedup_rules_company_entity ON dedup_rules (company_id, entity);
`

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `SELECT id, company_id, entity, key_fields, threshold, ignore_fields, enabled, created_at, updated_at FROM dedup_rules`

type Store struct {
	db    *sql.DB
	Now   func() time.Time
	NewID func() string
}

// Open opens (creating if needed) the rules database at path. ":memory:"
// gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create rules directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rules database: %w", err)
	}
	// One connection: SQLite serializes writers anyway and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create rules schema: %w", err)
	}

	return &Store{
		db:    db,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() string { return uuid.New().String() },
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Validate checks a rule before it is written.
func Validate(r model.Rule) error {
	if strings.TrimSpace(r.CompanyID) == "" || strings.TrimSpace(r.Entity) == "" {
		return fmt.Errorf("%w: company_id and entity are required", ErrInvalidRule)
	}
	if len(r.KeyFields) == 0 {
		return fmt.Errorf("%w: at least one key field is required", ErrInvalidRule)
	}
	for _, f := range r.KeyFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: empty key field", ErrInvalidRule)
		}
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidRule, r.Threshold)
	}
	return nil
}

// Create stores a new rule as given; defaults are applied by callers.
func (s *Store) Create(ctx context.Context, r model.Rule) (model.Rule, error) {
	if err := Validate(r); err != nil {
		return model.Rule{}, err
	}
	now := s.Now()
	r.ID = s.NewID()
	r.CreatedAt, r.UpdatedAt = now, now

	keyFields, ignoreFields, err := encodeFields(r)
	if err != nil {
		return model.Rule{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dedup_rules (id, company_id, entity, key_fields, threshold, ignore_fields, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CompanyID, r.Entity, keyFields, r.Threshold, ignoreFields, r.Enabled,
		r.CreatedAt.UTC().Format(timeLayout), r.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return model.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Rule, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r, err
}

// List returns the rules of a company, optionally narrowed to one entity.
func (s *Store) List(ctx context.Context, companyID, entity string) ([]model.Rule, error) {
	query := selectColumns + ` WHERE company_id = ?`
	args := []any{companyID}
	if entity != "" {
		query += ` AND entity = ?`
		args = append(args, entity)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, r model.Rule) (model.Rule, error) {
	current, err := s.Get(ctx, r.ID)
	if err != nil {
		return model.Rule{}, err
	}
	if err := Validate(r); err != nil {
		return model.Rule{}, err
	}
	r.CreatedAt = current.CreatedAt
	r.UpdatedAt = s.Now()

	keyFields, ignoreFields, err := encodeFields(r)
	if err != nil {
		return model.Rule{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE dedup_rules SET company_id = ?, entity = ?, key_fields = ?, threshold = ?, ignore_fields = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		r.CompanyID, r.Entity, keyFields, r.Threshold, ignoreFields, r.Enabled, r.UpdatedAt.UTC().Format(timeLayout), r.ID)
	if err != nil {
		return model.Rule{}, fmt.Errorf("update rule %s: %w", r.ID, err)
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

// Active returns the most recently updated enabled rule for an entity type.
// ok is false when the company has none.
func (s *Store) Active(ctx context.Context, companyID, entity string) (model.Rule, bool, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE company_id = ? AND entity = ? AND enabled = 1 ORDER BY updated_at DESC, id LIMIT 1`,
		companyID, entity)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, false, nil
	}
	if err != nil {
		return model.Rule{}, false, err
	}
	return r, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (model.Rule, error) {
	var (
		r                       model.Rule
		keyFields, ignoreFields string
		createdAt, updatedAt    string
	)
	if err := sc.Scan(&r.ID, &r.CompanyID, &r.Entity, &keyFields, &r.Threshold, &ignoreFields, &r.Enabled, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Rule{}, err
		}
		return model.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	if err := json.Unmarshal([]byte(keyFields), &r.KeyFields); err != nil {
		return model.Rule{}, fmt.Errorf("decode key fields of rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(ignoreFields), &r.IgnoreFields); err != nil {
		return model.Rule{}, fmt.Errorf("decode ignore fields of rule %s: %w", r.ID, err)
	}
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	r.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return r, nil
}

func encodeFields(r model.Rule) (string, string, error) {
	keyFields, err := json.Marshal(r.KeyFields)
	if err != nil {
		return "", "", fmt.Errorf("encode key fields: %w", err)
	}
	ignore := r.IgnoreFields
	if ignore == nil {
		ignore = []string{}
	}
	ignoreFields, err := json.Marshal(ignore)
	if err != nil {
		return "", "", fmt.Errorf("encode ignore fields: %w", err)
	}
	return string(keyFields), string(ignoreFields), nil
}
