// Package main provides the neuroweave CLI.
//
// Usage:
//
//	neuroweave [flags] <command> [args]
//
// Commands:
//
//	chat     - talk to the graph interactively
//	ask      - answer a natural-language question
//	query    - run a structured subgraph query
//	ingest   - process a batch of messages
//	serve    - run the live graph visualizer
//	config   - show the effective configuration
//	version  - print the version
//
// Configuration:
//
//	Settings are read from --config, else ~/.neuroweave/config.yaml when it
//	exists, then overlaid with NEUROWEAVE_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/neuroweave/cmd/neuroweave/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
