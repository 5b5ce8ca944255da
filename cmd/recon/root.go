package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/core/reconcile"
	"github.com/agenthands/esgrecon/internal/logging"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

type options struct {
	configPath string
	input      string
	output     string
	logJSON    bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "recon",
		Short: "Fuzzy record reconciliation",
		Long: `Match, compare and merge loosely structured records.

Every reconcile command reads one JSON request from --input (or stdin) and
prints the result as JSON or YAML.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != formatJSON && opts.output != formatYAML {
				return fmt.Errorf("unknown output format %q", opts.output)
			}
			if opts.logJSON {
				logging.SetDefault(logging.New(cmd.ErrOrStderr()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.toml (defaults apply when empty)")
	cmd.PersistentFlags().StringVarP(&opts.input, "input", "i", "-", "request file, - for stdin")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", formatJSON, "output format: json or yaml")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "write logs to stderr as JSON")

	cmd.AddCommand(
		newSimilarCommand(opts),
		newConflictsCommand(opts),
		newStrategyCommand(opts),
		newMergeCommand(opts),
		newSamePersonCommand(opts),
		newClustersCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

// loadConfig reads the config file when one is given, then the environment.
func (o *options) loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		logging.Default().Info().Str("path", o.configPath).Msg("Loaded configuration")
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) matcher() (*reconcile.Matcher, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return reconcile.NewMatcher(reconcile.NewPolicy(cfg.Reconcile)), nil
}

func (o *options) readRequest(cmd *cobra.Command, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if o.input != "-" && o.input != "" {
		f, err := os.Open(o.input)
		if err != nil {
			return fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func (o *options) write(cmd *cobra.Command, v any) error {
	out := cmd.OutOrStdout()
	if o.output == formatYAML {
		data, err := yaml.MarshalWithOptions(v, yaml.UseJSONMarshaler())
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = out.Write(data)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
