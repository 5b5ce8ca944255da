package server

import (
	"context"
	"fmt"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/core"
	"github.com/agenthands/esgrecon/internal/driver"
	"github.com/agenthands/esgrecon/internal/llm"
	"github.com/agenthands/esgrecon/internal/logging"
	"github.com/agenthands/esgrecon/internal/rules"
)

// Bootstrap connects Memgraph, the rules database and the LLM provider and
// returns a ready Server. The returned func releases all of them.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Server, func(), error) {
	log := logging.FromContext(ctx)

	d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Memgraph: %w", err)
	}
	if err := d.BuildIndices(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to build indices")
	}

	ruleStore, err := rules.Open(ctx, cfg.Rules.Path)
	if err != nil {
		d.Close(ctx)
		return nil, nil, err
	}

	var client llm.LLMClient
	if cfg.LLM.Provider != "" {
		client, err = llm.NewClient(ctx, cfg.LLM)
		if err != nil {
			ruleStore.Close()
			d.Close(ctx)
			return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
	} else {
		log.Warn().Msg("No LLM provider configured, extraction and review notes fall back to heuristics")
	}

	reconciler := core.NewReconciler(driver.NewGraphStore(d), ruleStore, client, cfg)

	cleanup := func() {
		if err := ruleStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close rules database")
		}
		if err := d.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to close Memgraph driver")
		}
	}

	log.Info().
		Str("memgraph", cfg.Memgraph.URI).
		Str("rules_db", cfg.Rules.Path).
		Str("llm_provider", cfg.LLM.Provider).
		Msg("Reconciler ready")

	return New(reconciler, ruleStore), cleanup, nil
}
