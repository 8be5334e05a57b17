package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/neuroweave/pkg/planner"
	"github.com/haivivi/neuroweave/pkg/query"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a natural-language question from the graph",
	Long: `Plan a natural-language question into a subgraph query and run it.

The question itself is not ingested. Use --seed to give the graph something
to answer from.

Example:
  neuroweave ask --seed notes.txt "where are we traveling?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(cmd.Context(), stderr)
		if err != nil {
			return err
		}
		defer e.close()

		question := strings.Join(args, " ")
		res, plan, err := e.mem.Ask(cmd.Context(), question)
		if err != nil {
			return err
		}
		return outputResult(askResult{Question: question, Plan: plan, Result: res})
	},
}

type askResult struct {
	Question string        `json:"question" yaml:"question"`
	Plan     planner.Plan  `json:"plan" yaml:"plan"`
	Result   *query.Result `json:"result" yaml:"result"`
}

func init() {
	addSeedFlag(askCmd)
}
