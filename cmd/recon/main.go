// Command recon runs the record reconciliation operations from the shell
// and serves the HTTP API.
package main

import (
	"os"

	"github.com/agenthands/esgrecon/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logging.Default().Error().Err(err).Msg("recon failed")
		os.Exit(1)
	}
}
