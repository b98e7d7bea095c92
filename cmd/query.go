package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/arrowexec"
	"github.com/cube2222/octoframe/lazy"
	"github.com/cube2222/octoframe/output"
)

func newQueryCmd(root *rootOptions) *cobra.Command {
	var format string
	var optimize bool
	cmd := &cobra.Command{
		Use:   "query <queryfile.yaml>",
		Args:  cobra.ExactArgs(1),
		Short: "Run the query and print its result.",
		Example: `octoframe query orders.yaml
octoframe query --output json orders.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			newFormat, ok := output.Formats[format]
			if !ok {
				return errors.Errorf("unknown output format '%s'", format)
			}
			cfg, err := root.configuration()
			if err != nil {
				return err
			}
			logger := root.logger(cmd, cfg)

			lf, err := loadQuery(cmd.Context(), args[0], logger)
			if err != nil {
				return err
			}

			opts := []lazy.CollectOption{
				lazy.WithConfig(cfg),
				lazy.WithExecutor(arrowexec.NewExecutor(cfg, arrowexec.WithLogger(logger))),
			}
			if !optimize {
				opts = append(opts, lazy.WithoutOptimization())
			}
			start := time.Now()
			result, err := lf.Collect(cmd.Context(), opts...)
			if err != nil {
				return fmt.Errorf("couldn't run query: %w", err)
			}
			elapsed := time.Since(start)

			if err := output.Print(newFormat(cmd.OutOrStdout()), result); err != nil {
				return errors.Wrap(err, "couldn't print result")
			}
			level.Info(logger).Log(
				"msg", "query finished",
				"rows", humanize.Comma(int64(result.NumRows())),
				"chunks", result.NumChunks(),
				"duration", elapsed,
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, csv or json.")
	cmd.Flags().BoolVar(&optimize, "optimize", true, "Whether the query should be optimized.")
	return cmd
}
