package cmd

import (
	"context"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/lazy"
	"github.com/cube2222/octoframe/logs"
)

type rootOptions struct {
	verbose bool
	threads int
}

// NewRootCmd creates the octoframe command with all its subcommands.
func NewRootCmd() *cobra.Command {
	options := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "octoframe",
		Short: "Run lazy dataframe queries declared in YAML files.",
		Long: `octoframe reads Arrow IPC, Parquet and JSON lines files, builds a lazy query
out of the steps declared in a query file, optimizes it and runs it on all cores.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().BoolVarP(&options.verbose, "verbose", "v", false, "Log per-operator execution details.")
	rootCmd.PersistentFlags().IntVar(&options.threads, "threads", 0, "Worker pool size, overrides the configuration when positive.")

	rootCmd.AddCommand(newQueryCmd(options), newExplainCmd(options))
	return rootCmd
}

func Execute(ctx context.Context) {
	cobra.CheckErr(NewRootCmd().ExecuteContext(ctx))
}

// configuration returns the process configuration with the command line overrides applied.
func (o *rootOptions) configuration() (config.Config, error) {
	cfg, err := config.Process()
	if err != nil {
		return config.Config{}, errors.Wrap(err, "couldn't read configuration")
	}
	if o.verbose {
		cfg.Verbose = true
	}
	if o.threads > 0 {
		cfg.MaxThreads = o.threads
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func (o *rootOptions) logger(cmd *cobra.Command, cfg config.Config) log.Logger {
	return logs.New(cmd.ErrOrStderr(), cfg.Verbose)
}

// loadQuery reads the query file and builds its lazy frame.
func loadQuery(ctx context.Context, path string, logger log.Logger) (lazy.LazyFrame, error) {
	queryFile, err := ReadQueryFile(path)
	if err != nil {
		return lazy.LazyFrame{}, err
	}
	sources, err := queryFile.OpenSources(ctx, logger)
	if err != nil {
		return lazy.LazyFrame{}, err
	}
	lf, err := queryFile.Query.Frame(sources)
	if err != nil {
		return lazy.LazyFrame{}, errors.Wrap(err, "invalid query")
	}
	return lf, nil
}
