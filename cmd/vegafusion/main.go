// Command vegafusion is a thin CLI over this module's planner and task
// graph, deliberately minimal per spec.md's CLI/config Non-goal: it exists
// to exercise the library end-to-end from a spec file on disk, not to be a
// product in its own right. The cobra.Command tree mirrors the teacher's
// own top-level command-registration idiom (see the root command composing
// subcommands in cmd/tofu/commands.go); the actual command set here is new.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/compile"
	"github.com/MarcoGorelli/vegafusion/internal/dag/graphviz"
	"github.com/MarcoGorelli/vegafusion/internal/planner"
	"github.com/MarcoGorelli/vegafusion/internal/taskgraph"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vegafusion",
		Short:         "Plan and inspect Vega chart specs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPlanCmd())
	root.AddCommand(newGraphCmd())
	return root
}

func readSpec(path string) (*chartspec.ChartSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return chartspec.Parse(data)
}

// newPlanCmd runs the planner pipeline over a spec file and reports, for
// each dataset/signal, which side of the server/client boundary it ends up
// on.
func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <spec.json>",
		Short: "Run the planner over a spec and print the resulting comm plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := readSpec(args[0])
			if err != nil {
				return err
			}
			result, err := planner.Run(spec, planner.Options{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "server -> client:")
			for _, sv := range result.Plan.ServerToClient {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", sv)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "client -> server:")
			for _, sv := range result.Plan.ClientToServer {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", sv)
			}
			return nil
		},
	}
}

// newGraphCmd compiles a spec's server side into a task graph and prints it
// as Graphviz dot, suitable for piping into `dot -Tpng`.
func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <spec.json>",
		Short: "Compile a spec's server side and print its task graph as Graphviz dot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := readSpec(args[0])
			if err != nil {
				return err
			}
			result, err := planner.Run(spec, planner.Options{})
			if err != nil {
				return err
			}
			tasks, scope, err := compile.FromChartSpec(result.Server)
			if err != nil {
				return err
			}
			g, err := taskgraph.New(tasks, scope)
			if err != nil {
				return err
			}
			return graphviz.WriteDot(g, cmd.OutOrStdout())
		},
	}
}
