package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/haivivi/neuroweave/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live graph visualizer",
	Long: `Serve the graph visualizer until interrupted.

Routes:
  /            visualizer page
  /api/graph   graph snapshot
  /api/health  status and counts
  /metrics     Prometheus metrics
  /ws/graph    live event stream (?encoding=msgpack for binary frames)

Example:
  neuroweave serve --seed notes.txt --port 9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := startEngine(ctx, stderr)
		if err != nil {
			return err
		}
		defer e.close()

		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			e.settings.Server.Port = port
		}
		srv, err := startServer(ctx, e)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving on http://%s\n", srv.Addr())

		<-ctx.Done()
		return shutdownServer(srv, e.log)
	},
}

// startServer serves e's graph on the configured address.
func startServer(ctx context.Context, e *engine) (*server.Server, error) {
	bus, err := e.mem.Bus()
	if err != nil {
		return nil, err
	}
	srv, err := server.New(e.mem, server.Config{
		Addr:     e.settings.Server.Addr(),
		Bus:      bus,
		Registry: e.registry,
		Logger:   e.log.Named("server"),
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func shutdownServer(srv *server.Server, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server.shutdown_failed", zap.Error(err))
		return err
	}
	return nil
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	addSeedFlag(serveCmd)
}
