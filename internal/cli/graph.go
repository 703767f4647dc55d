package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/statenet/internal/render"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Graph    string
	Database string
	Run      string
	Output   string
}

// GraphResult is the JSON form of a rendered graph.
type GraphResult struct {
	Graph   string `json:"graph"`
	RunID   string `json:"run_id,omitempty"`
	Mermaid string `json:"mermaid"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph <graph-path>",
		Short: "Render a graph as a Mermaid flowchart",
		Long: `Render a graph as a Mermaid flowchart.

Parents become subgraphs; edges are labelled with the transition name and
kind. With --db and --run, nodes a recorded run visited are highlighted,
and the nodes still running when it ended stand out.

Examples:
  statenet graph ./graphs/door.cue
  statenet graph ./graphs --graph door -o door.mmd
  statenet graph ./graphs/door.cue --db ./runs.db --run latest`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Graph, "graph", "", "graph to render when the path declares several")
	cmd.Flags().StringVar(&opts.Database, "db", "", "database holding the run to overlay")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run ID (or latest) to overlay; needs --db")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the flowchart to this file instead of stdout")

	return cmd
}

func runRender(opts *GraphOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	spec, err := loadGraph(path, opts.Graph)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load graph", err)
	}

	result := GraphResult{Graph: spec.Name}
	var overlay *render.Overlay
	if opts.Run != "" {
		if opts.Database == "" {
			return NewExitError(ExitCommandError, "--run needs --db")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		st, err := openExisting(opts.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := resolveRun(ctx, st, opts.Run)
		if err != nil {
			return WrapExitError(ExitCommandError, "run not found", err)
		}
		if run.Graph != spec.Name {
			return NewExitError(ExitCommandError, fmt.Sprintf("run %s is of graph %q, not %q", run.ID, run.Graph, spec.Name))
		}
		records, err := st.ReadRecords(ctx, run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read trace", err)
		}
		overlay = render.OverlayFromRecords(records)
		result.RunID = run.ID
	}

	result.Mermaid = render.Mermaid(spec, overlay)

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(result.Mermaid), 0644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write flowchart", err)
		}
		formatter.VerboseLog("Wrote %s", opts.Output)
		if formatter.JSON() {
			return formatter.Encode(CLIResponse{Status: "ok", Data: result, RunID: result.RunID})
		}
		return nil
	}

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result, RunID: result.RunID})
	}
	fmt.Fprint(formatter.Writer, result.Mermaid)
	return nil
}
