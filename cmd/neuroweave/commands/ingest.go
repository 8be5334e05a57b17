package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/neuroweave/pkg/cli"
	"github.com/haivivi/neuroweave/pkg/graph"
	"github.com/haivivi/neuroweave/pkg/memory"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Process a batch of messages",
	Long: `Process every message in a file and report what each one added.

Text files hold one message per line. YAML and JSON files hold a list of
strings or an object with a "messages" list.

Example:
  neuroweave ingest notes.txt
  cat notes.txt | neuroweave ingest - --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := cli.LoadMessages(args[0])
		if err != nil {
			return err
		}

		e, err := startEngine(cmd.Context(), stderr)
		if err != nil {
			return err
		}
		defer e.close()

		out := ingestResult{Messages: make([]ingestedMessage, 0, len(msgs))}
		for _, msg := range msgs {
			res, err := e.mem.Process(cmd.Context(), msg)
			if err != nil {
				return err
			}
			out.Messages = append(out.Messages, ingestedMessage{Message: msg, Result: res})
			printVerbose("%q: +%d nodes, +%d edges in %s",
				msg, res.NodesAdded, res.EdgesAdded, cli.FormatMillis(res.ExtractionMS))
		}
		out.Graph = e.mem.Stats()

		showGraph, _ := cmd.Flags().GetBool("snapshot")
		if showGraph {
			snap := e.mem.Snapshot()
			out.Snapshot = &snap
		}
		return outputResult(out)
	},
}

type ingestedMessage struct {
	Message string                `json:"message" yaml:"message"`
	Result  *memory.ProcessResult `json:"result" yaml:"result"`
}

type ingestResult struct {
	Messages []ingestedMessage `json:"messages" yaml:"messages"`
	Graph    graph.Stats       `json:"graph" yaml:"graph"`
	Snapshot *graph.Snapshot   `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
}

func init() {
	ingestCmd.Flags().Bool("snapshot", false, "include the resulting graph in the output")
}
