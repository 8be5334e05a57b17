package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/neuroweave/pkg/query"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a structured subgraph query",
	Long: `Run a subgraph query without the planner.

Seeds are matched by name, case-insensitively, exact matches first.
Without --entity the whole graph is returned.

Example:
  neuroweave query --seed notes.txt --entity Lena --relation likes --hops 1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, _ := cmd.Flags().GetStringSlice("entity")
		relations, _ := cmd.Flags().GetStringSlice("relation")
		minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")
		hops, _ := cmd.Flags().GetInt("hops")
		if minConfidence < 0 || minConfidence > 1 {
			return fmt.Errorf("--min-confidence must be within [0, 1]")
		}
		if hops < 0 {
			return fmt.Errorf("--hops must not be negative")
		}

		e, err := startEngine(cmd.Context(), stderr)
		if err != nil {
			return err
		}
		defer e.close()

		res, err := e.mem.Query(query.Params{
			Entities:      entities,
			Relations:     relations,
			MinConfidence: minConfidence,
			MaxHops:       hops,
		})
		if err != nil {
			return err
		}
		return outputResult(res)
	},
}

func init() {
	defaults := query.DefaultParams()
	queryCmd.Flags().StringSlice("entity", nil, "seed entity name (repeatable)")
	queryCmd.Flags().StringSlice("relation", nil, "relation allow-list (repeatable)")
	queryCmd.Flags().Float64("min-confidence", defaults.MinConfidence, "minimum edge confidence")
	queryCmd.Flags().Int("hops", defaults.MaxHops, "hops to traverse from the seeds")
	addSeedFlag(queryCmd)
}
