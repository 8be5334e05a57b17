package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/neuroweave/pkg/cli"
	"github.com/haivivi/neuroweave/pkg/logging"
)

const (
	chatWidth    = 72
	chatLogLines = 200
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the graph interactively",
	Long: `Start an interactive session. Every line you type is processed into the
graph and then answered from it.

Commands:
  /graph          show the whole graph
  /stats          show graph and event counters
  /ask <question> answer without ingesting the question
  /logs           show recent log lines
  /help           show this help
  /quit           leave

Logs are kept in memory (see /logs) unless -v is given.

Example:
  neuroweave chat --serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tail := logging.NewTail(chatLogLines)
		var logOut io.Writer = tail
		if verbose {
			logOut = io.MultiWriter(tail, stderr)
		}

		e, err := startEngine(ctx, logOut)
		if err != nil {
			return err
		}
		defer e.close()

		c := &chat{
			e:      e,
			tail:   tail,
			styles: cli.NewStyles(cli.DefaultTheme),
			out:    cmd.OutOrStdout(),
		}
		if paths, err := cli.NewPaths(); err == nil {
			c.paths = paths
		}

		if serve, _ := cmd.Flags().GetBool("serve"); serve {
			srv, err := startServer(ctx, e)
			if err != nil {
				return err
			}
			defer shutdownServer(srv, e.log)
			cli.PrintSuccess("Visualizer on http://%s", srv.Addr())
		}

		return c.run(ctx, cmd.InOrStdin())
	},
}

func init() {
	chatCmd.Flags().Bool("serve", false, "also serve the live visualizer")
	addSeedFlag(chatCmd)
}

type chat struct {
	e      *engine
	tail   *logging.Tail
	styles cli.Styles
	out    io.Writer
	paths  *cli.Paths
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, c.styles.Title.Render("NeuroWeave")+c.styles.Help.Render("type /help for commands"))

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, c.styles.Prompt.Render("you> "))
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if c.paths != nil {
			_ = c.paths.AppendHistory(line)
		}
		if quit := c.handle(ctx, line); quit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (c *chat) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, c.styles.Help.Render("/graph  /stats  /ask <question>  /logs  /quit"))
	case "/graph":
		snap := c.e.mem.Snapshot()
		fmt.Fprintln(c.out, cli.GraphBox(c.styles, "Graph", snap.Nodes, snap.Edges).Render(chatWidth))
	case "/stats":
		c.stats()
	case "/logs":
		for _, l := range c.tail.Lines() {
			fmt.Fprintln(c.out, c.styles.Help.Render(l))
		}
	case "/ask":
		if strings.TrimSpace(arg) == "" {
			c.fail(fmt.Errorf("usage: /ask <question>"))
			return false
		}
		c.ask(ctx, arg)
	default:
		if strings.HasPrefix(cmd, "/") {
			c.fail(fmt.Errorf("unknown command %s", cmd))
			return false
		}
		c.message(ctx, line)
	}
	return false
}

func (c *chat) message(ctx context.Context, line string) {
	res, err := c.e.mem.Context(ctx, line)
	if err != nil {
		c.fail(err)
		return
	}
	p := res.Process
	fmt.Fprintln(c.out, c.styles.Help.Render(fmt.Sprintf(
		"extracted %d entities, %d relations · +%d nodes, +%d edges, %d skipped · %s",
		p.EntitiesExtracted, p.RelationsExtracted, p.NodesAdded, p.EdgesAdded, p.EdgesSkipped,
		cli.FormatMillis(p.ExtractionMS),
	)))
	if res.Relevant != nil && !res.Relevant.Empty() {
		fmt.Fprintln(c.out, cli.GraphBox(c.styles, "Relevant", res.Relevant.Nodes, res.Relevant.Edges).Render(chatWidth))
	}
}

func (c *chat) ask(ctx context.Context, question string) {
	res, plan, err := c.e.mem.Ask(ctx, question)
	if err != nil {
		c.fail(err)
		return
	}
	if plan.Reasoning != "" {
		fmt.Fprintln(c.out, c.styles.Help.Render(plan.Reasoning+" · "+cli.FormatElapsed(plan.Duration)))
	}
	fmt.Fprintln(c.out, cli.GraphBox(c.styles, "Answer", res.Nodes, res.Edges).Render(chatWidth))
}

func (c *chat) stats() {
	st := c.e.mem.Stats()
	lines := []string{
		fmt.Sprintf("nodes   %d", st.NodeCount),
		fmt.Sprintf("edges   %d", st.EdgeCount),
	}
	if bus, err := c.e.mem.Bus(); err == nil {
		bs := bus.Stats()
		lines = append(lines,
			fmt.Sprintf("events  %d emitted, %d handler timeouts, %d handler errors", bs.Emits, bs.Timeouts, bs.Errors),
			fmt.Sprintf("subs    %d", bs.Subscribers),
		)
	}
	box := cli.Box{
		Styles:   c.styles,
		Title:    "Stats",
		Sections: []cli.Section{{Label: "Graph", Lines: lines}},
	}
	fmt.Fprintln(c.out, box.Render(chatWidth))
}

func (c *chat) fail(err error) {
	cli.PrintError("%s", c.styles.Error.Render(err.Error()))
}
