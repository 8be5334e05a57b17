package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/cli"
	"github.com/haivivi/neuroweave/pkg/config"
	"github.com/haivivi/neuroweave/pkg/logging"
	"github.com/haivivi/neuroweave/pkg/memory"
	"github.com/haivivi/neuroweave/pkg/metrics"
)

// shutdownTimeout bounds draining event handlers and the HTTP server.
const shutdownTimeout = 5 * time.Second

// version is set at build time with -ldflags "-X ...commands.version=...".
var version = "dev"

var (
	// Global flags
	cfgFile   string
	outFormat string
	jqQuery   string
	verbose   bool
	seedFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "neuroweave",
	Short: "Conversational knowledge graph",
	Long: `NeuroWeave - builds a knowledge graph from conversation.

Every message is run through entity and relation extraction and merged into
an in-memory graph. Questions are planned into subgraph queries and answered
from the graph. The graph lives for one process; use --seed to preload
messages.

Configuration is read from --config or ~/.neuroweave/config.yaml, then
overlaid with NEUROWEAVE_* environment variables.

Examples:
  # Chat with the live visualizer on http://127.0.0.1:8787
  neuroweave chat --serve

  # Ask a question about a batch of messages
  neuroweave ask --seed notes.txt "what does my wife like?"

  # Pipe results through jq
  neuroweave ingest notes.txt --format json --jq '.messages[].result.nodes_added'
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.neuroweave/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "yaml", "output format: yaml, json or raw")
	rootCmd.PersistentFlags().StringVar(&jqQuery, "jq", "", "jq filter applied to the output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// addSeedFlag registers --seed on commands that work on a fresh graph.
func addSeedFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&seedFile, "seed", "", "messages file to ingest first (text, YAML or JSON; - for stdin)")
}

// loadSettings resolves and loads the configuration.
func loadSettings() (*config.Config, error) {
	paths, err := cli.NewPaths()
	if err != nil {
		return nil, err
	}
	path, err := paths.ResolveConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger writing to w.
func newLogger(cfg *config.Config, w io.Writer) (*zap.Logger, error) {
	return logging.NewWithWriter(cfg.Log, w)
}

// engine bundles what commands need to drive a Memory.
type engine struct {
	settings *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	mem      *memory.Memory
}

// startEngine loads settings, starts a Memory logging to w, and ingests the
// --seed file if one was given.
func startEngine(ctx context.Context, w io.Writer) (*engine, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(settings, w)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	mem, err := memory.New(memory.Config{
		Settings:   settings,
		Registerer: reg,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	if err := mem.Start(ctx); err != nil {
		return nil, err
	}

	e := &engine{settings: settings, log: log, registry: reg, mem: mem}
	if seedFile != "" {
		if err := e.seed(ctx, seedFile); err != nil {
			e.close()
			return nil, err
		}
	}
	return e, nil
}

func (e *engine) seed(ctx context.Context, path string) error {
	msgs, err := cli.LoadMessages(path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	for _, msg := range msgs {
		if _, err := e.mem.Process(ctx, msg); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	printVerbose("seeded %d messages: %d nodes, %d edges",
		len(msgs), e.mem.Stats().NodeCount, e.mem.Stats().EdgeCount)
	return nil
}

func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = e.mem.Stop(ctx)
	_ = e.log.Sync()
}

// outputResult outputs the result using the global --format and --jq flags
func outputResult(result any) error {
	format, err := cli.ParseFormat(outFormat)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		Query:  jqQuery,
	})
}

// printVerbose prints verbose output if enabled
func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}

// stderr is where command logs go unless a command redirects them.
var stderr io.Writer = os.Stderr
