package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/scandiff/internal/config"
	"github.com/banshee-data/scandiff/internal/monitoring"
	"github.com/banshee-data/scandiff/internal/pipeline"
	"github.com/banshee-data/scandiff/internal/store"
	"github.com/banshee-data/scandiff/internal/version"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	dbPath      string
	quiet       bool
	metricsFile string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "scandiff",
		Short: "Detect and cluster change between two point-cloud surveys",
		Long: `scandiff aligns a repeat survey onto a reference with point-to-plane ICP,
removes the ground plane, measures per-point change and clusters the changed
regions with DBSCAN. Run summaries are kept in a SQLite database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.quiet {
				monitoring.SetLogger(nil)
			} else {
				monitoring.SetLogger(log.New(cmd.ErrOrStderr(), "", log.LstdFlags).Printf)
			}
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.metricsFile == "" {
				return nil
			}
			if err := prometheus.WriteToTextfile(opts.metricsFile, monitoring.Registry); err != nil {
				return fmt.Errorf("write metrics: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "scandiff.db", "SQLite database holding the run history")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress diagnostic logging")
	root.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "write stage metrics in Prometheus text format to this file on exit")

	root.AddCommand(newDemoCmd(opts))
	root.AddCommand(newRunsCmd(opts))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func (o *options) openStore() (*store.RunStore, *sql.DB, error) {
	db, err := store.Open(o.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", o.dbPath, err)
	}
	return store.NewRunStore(db), db, nil
}

// loadParams resolves --config into pipeline parameters, falling back to
// fallback when no file is given.
func loadParams(path string, fallback *config.AnalysisConfig) (pipeline.Params, error) {
	cfg := fallback
	if path != "" {
		var err error
		if cfg, err = config.LoadAnalysisConfig(path); err != nil {
			return pipeline.Params{}, err
		}
	}
	return cfg.ToPipelineParams(), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
