package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenthands/esgrecon/internal/core/cluster"
	"github.com/agenthands/esgrecon/internal/core/model"
	"github.com/agenthands/esgrecon/internal/core/reconcile"
	"github.com/agenthands/esgrecon/internal/logging"
	"github.com/agenthands/esgrecon/internal/server"
)

var errNoKeyFields = errors.New("key_fields must name at least one field")

func thresholdOr(t *float64, m *reconcile.Matcher) float64 {
	if t == nil {
		return m.Policy.MatchThreshold
	}
	return *t
}

func newSimilarCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "similar",
		Short:   "Rank existing records by similarity to a new one",
		Example: `  echo '{"record":{"name":"Acme"},"existing":[{"id":"1","name":"ACME"}],"key_fields":["name"]}' | recon similar`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.matcher()
			if err != nil {
				return err
			}
			var req server.SimilarRequest
			if err := opts.readRequest(cmd, &req); err != nil {
				return err
			}
			if len(req.KeyFields) == 0 {
				return errNoKeyFields
			}
			matches := m.FindSimilar(req.Record, req.Existing, req.KeyFields, thresholdOr(req.Threshold, m))
			if matches == nil {
				matches = []model.Match{}
			}
			return opts.write(cmd, map[string]any{"matches": matches})
		},
	}
}

func newConflictsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List the fields where a new record disagrees with an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.matcher()
			if err != nil {
				return err
			}
			var req server.ConflictsRequest
			if err := opts.readRequest(cmd, &req); err != nil {
				return err
			}
			var conflicts []model.Conflict
			if req.IgnoreFields == nil {
				conflicts = m.DetectConflicts(req.New, req.Existing)
			} else {
				conflicts = reconcile.DetectConflicts(req.New, req.Existing, req.IgnoreFields)
			}
			if conflicts == nil {
				conflicts = []model.Conflict{}
			}
			return opts.write(cmd, map[string]any{"conflicts": conflicts})
		},
	}
}

func newStrategyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "strategy",
		Short: "Suggest a merge strategy for a set of conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.matcher()
			if err != nil {
				return err
			}
			var req server.StrategyRequest
			if err := opts.readRequest(cmd, &req); err != nil {
				return err
			}
			strategy := m.SuggestMergeStrategy(req.Conflicts, dateOf(req.NewDate), dateOf(req.ExistingDate))
			return opts.write(cmd, map[string]any{"strategy": strategy})
		},
	}
}

func newMergeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge a new record into an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req server.MergeRequest
			if err := opts.readRequest(cmd, &req); err != nil {
				return err
			}
			if !req.Strategy.Valid() {
				return fmt.Errorf("unknown strategy %q", req.Strategy)
			}
			return opts.write(cmd, map[string]any{"record": reconcile.MergeData(req.Existing, req.New, req.Strategy)})
		},
	}
}

func newSamePersonCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "same-person",
		Short: "Decide whether two person records describe the same individual",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.matcher()
			if err != nil {
				return err
			}
			var req server.SamePersonRequest
			if err := opts.readRequest(cmd, &req); err != nil {
				return err
			}
			return opts.write(cmd, map[string]any{"same": m.IsSamePerson(req.A, req.B)})
		},
	}
}

func newClustersCommand(opts *options) *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Group a batch of records into likely duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.matcher()
			if err != nil {
				return err
			}
			var req server.ClustersRequest
			if err := opts.readRequest(cmd, &req); err != nil {
				return err
			}
			if len(req.KeyFields) == 0 {
				return errNoKeyFields
			}

			var d cluster.Detector
			switch algorithm {
			case "lpa":
				d = cluster.NewLabelPropagationDetector()
			case "components":
				d = cluster.NewComponentDetector()
			default:
				return fmt.Errorf("unknown algorithm %q", algorithm)
			}
			clusters := cluster.Records(d, m, req.Records, req.KeyFields, thresholdOr(req.Threshold, m))
			if clusters == nil {
				clusters = [][]int{}
			}
			return opts.write(cmd, map[string]any{"clusters": clusters})
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "lpa", "clustering algorithm: lpa or components")
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, logging.Default())

			srv, cleanup, err := server.Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return serve(ctx, srv, cfg.Server.Port)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

func dateOf(s string) *time.Time {
	if t, ok := model.ParseDate(s); ok {
		return &t
	}
	return nil
}
