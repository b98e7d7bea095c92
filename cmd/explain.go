package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/graph"
	"github.com/cube2222/octoframe/lazy"
)

func newExplainCmd(root *rootOptions) *cobra.Command {
	var dot, png bool
	var optimize bool
	cmd := &cobra.Command{
		Use:   "explain <queryfile.yaml>",
		Args:  cobra.ExactArgs(1),
		Short: "Print the query plan without running it.",
		Example: `octoframe explain orders.yaml
octoframe explain --dot orders.yaml | dot -Tsvg > plan.svg
octoframe explain --png orders.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.configuration()
			if err != nil {
				return err
			}
			lf, err := loadQuery(cmd.Context(), args[0], root.logger(cmd, cfg))
			if err != nil {
				return err
			}

			opts := []lazy.CollectOption{lazy.WithConfig(cfg)}
			if !optimize {
				opts = append(opts, lazy.WithoutOptimization())
			}

			if dot || png {
				described, err := lf.Describe(opts...)
				if err != nil {
					return err
				}
				g, err := graph.Show(described)
				if err != nil {
					return errors.Wrap(err, "couldn't render plan graph")
				}
				if png {
					return openPNG(g.String())
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), g.String())
				return err
			}

			explained, err := lf.Explain(opts...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), explained)
			return err
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "Print the plan as a Graphviz graph.")
	cmd.Flags().BoolVar(&png, "png", false, "Render the plan with Graphviz and open the image.")
	cmd.Flags().BoolVar(&optimize, "optimize", true, "Whether the plan should be optimized.")
	return cmd
}

// openPNG renders the graph with the dot binary into a temporary file and opens it with the default viewer.
func openPNG(graphSource string) error {
	file, err := os.CreateTemp(os.TempDir(), "octoframe-plan-*.png")
	if err != nil {
		return fmt.Errorf("couldn't create temporary file: %w", err)
	}
	render := exec.Command("dot", "-Tpng")
	render.Stdin = strings.NewReader(graphSource)
	render.Stdout = file
	render.Stderr = os.Stderr
	if err := render.Run(); err != nil {
		file.Close()
		return fmt.Errorf("couldn't render graph, is graphviz installed? %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("couldn't close temporary file: %w", err)
	}
	if err := open.Start(file.Name()); err != nil {
		return fmt.Errorf("couldn't open graph: %w", err)
	}
	return nil
}
