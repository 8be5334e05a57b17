// Package cli provides terminal helpers for the neuroweave command.
//
// This package includes:
//   - Output formatting (YAML, JSON, raw) with optional jq filtering
//   - Message file loading for batch ingestion (text, YAML, JSON)
//   - Styled rendering of graphs and query results
//   - Well-known paths under ~/.neuroweave
//
// Example usage:
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Query:  ".relevant.nodes[].name",
//	})
package cli
