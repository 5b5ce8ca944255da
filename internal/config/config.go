package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	MissingFieldsSkip     = "skip"
	MissingFieldsMismatch = "mismatch"
)

type ExtractionPrompts struct {
	Records string `toml:"records"`
}

type DeduplicationPrompts struct {
	Records string `toml:"records"`
}

type ReviewPrompts struct {
	Conflicts string `toml:"conflicts"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type RulesConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

// ReconcileConfig holds the matching and merge policy.
type ReconcileConfig struct {
	MatchThreshold      float64  `toml:"match_threshold"`
	RecencyDays         int      `toml:"recency_days"`
	MinorConflicts      int      `toml:"minor_conflicts"`
	ManualConflicts     int      `toml:"manual_conflicts"`
	PersonNameThreshold float64  `toml:"person_name_threshold"`
	IgnoreFields        []string `toml:"ignore_fields"`
	DateFields          []string `toml:"date_fields"`
	MissingFields       string   `toml:"missing_fields"`
	ConfirmWithLLM      bool     `toml:"confirm_with_llm"`
}

type ConcurrencyConfig struct {
	BulkExtract int `toml:"bulk_extract"`
}

type Config struct {
	LLM           LLMConfig            `toml:"llm"`
	Memgraph      MemgraphConfig       `toml:"memgraph"`
	Rules         RulesConfig          `toml:"rules"`
	Server        ServerConfig         `toml:"server"`
	Reconcile     ReconcileConfig      `toml:"reconcile"`
	Extraction    ExtractionPrompts    `toml:"extraction"`
	Deduplication DeduplicationPrompts `toml:"deduplication"`
	Review        ReviewPrompts        `toml:"review"`
	Concurrency   ConcurrencyConfig    `toml:"concurrency"`
}

// DefaultReconcile returns the stock matching policy.
func DefaultReconcile() ReconcileConfig {
	return ReconcileConfig{
		MatchThreshold:      0.8,
		RecencyDays:         30,
		MinorConflicts:      2,
		ManualConflicts:     5,
		PersonNameThreshold: 0.9,
		IgnoreFields:        []string{"id", "source_id", "created_at", "updated_at", "company_id"},
		DateFields:          []string{"updated_at", "created_at"},
		MissingFields:       MissingFieldsSkip,
	}
}

func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "gpt-oss:latest",
			BaseURL:  "http://localhost:11434",
		},
		Memgraph:    MemgraphConfig{URI: "bolt://localhost:7687"},
		Rules:       RulesConfig{Path: "data/rules.db"},
		Server:      ServerConfig{Port: "8080"},
		Reconcile:   DefaultReconcile(),
		Concurrency: ConcurrencyConfig{BulkExtract: 4},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with environment variables when set.
func ApplyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.Memgraph.URI, "MEMGRAPH_URI")
	setString(&cfg.Memgraph.User, "MEMGRAPH_USER")
	setString(&cfg.Memgraph.Password, "MEMGRAPH_PASSWORD")
	setString(&cfg.Rules.Path, "RULES_DB")
	setString(&cfg.Server.Port, "PORT")

	if v := os.Getenv("MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reconcile.MatchThreshold = f
		}
	}
}

func (c *Config) Validate() error {
	r := c.Reconcile
	if r.MatchThreshold < 0 || r.MatchThreshold > 1 {
		return fmt.Errorf("%w: match_threshold %v outside [0,1]", ErrInvalidConfig, r.MatchThreshold)
	}
	if r.PersonNameThreshold < 0 || r.PersonNameThreshold > 1 {
		return fmt.Errorf("%w: person_name_threshold %v outside [0,1]", ErrInvalidConfig, r.PersonNameThreshold)
	}
	if r.RecencyDays < 0 || r.MinorConflicts < 0 || r.ManualConflicts < 0 {
		return fmt.Errorf("%w: recency_days and conflict counts must not be negative", ErrInvalidConfig)
	}
	if r.MissingFields != MissingFieldsSkip && r.MissingFields != MissingFieldsMismatch {
		return fmt.Errorf("%w: unknown missing_fields policy %q", ErrInvalidConfig, r.MissingFields)
	}
	if c.Concurrency.BulkExtract < 1 {
		return fmt.Errorf("%w: concurrency.bulk_extract must be at least 1", ErrInvalidConfig)
	}
	return nil
}
