package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scandiff/internal/config"
	"github.com/banshee-data/scandiff/internal/monitoring"
	"github.com/banshee-data/scandiff/internal/pipeline"
	"github.com/banshee-data/scandiff/internal/registration"
	"github.com/banshee-data/scandiff/internal/report"
	"github.com/banshee-data/scandiff/internal/synth"
)

var logf = monitoring.Component("scandiff")

// surveyConfig widens the normal and correspondence search for the
// synthetic survey, whose grid spacing is 0.2 m and misalignment ~1 m.
func surveyConfig() *config.AnalysisConfig {
	radius, maxCorr, iterations := 0.6, 2.0, 100
	return &config.AnalysisConfig{
		NormalRadius:                 &radius,
		ICPMaxCorrespondenceDistance: &maxCorr,
		ICPMaxIterations:             &iterations,
	}
}

func newDemoCmd(opts *options) *cobra.Command {
	var (
		points     int
		seed       uint64
		configPath string
		outDir     string
		noStore    bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Analyse a generated survey pair with an erosion and a deposition zone",
		Long: `Generate a rolling-terrain reference survey and a repeat survey in which one
zone has eroded and another has been built up, misalign the repeat survey and
run the full analysis on the pair. The markdown report is printed and the
plots are written to --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := loadParams(configPath, surveyConfig())
			if err != nil {
				return err
			}

			refOpts, defOpts := synth.ReferenceOptions(), synth.DeformedOptions()
			refOpts.NumPoints, defOpts.NumPoints = points, points
			refOpts.Seed, defOpts.Seed = seed, seed+1
			pair := synth.NewSurveyPair(refOpts, defOpts)
			params.ReferenceName = "synthetic-reference"
			params.TargetName = "synthetic-target"

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := pipeline.Run(ctx, pair.Reference, pair.Target, params, progressObserver(ctx))
			if err != nil {
				return err
			}
			return finishRun(cmd, opts, a, outDir, noStore)
		},
	}
	cmd.Flags().IntVar(&points, "points", 10000, "points per generated survey")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "seed of the reference survey; the repeat survey uses seed+1")
	cmd.Flags().StringVar(&configPath, "config", "", "analysis config JSON (defaults tuned for the generated survey)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "reports", "directory for the report and plots")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the run in the database")
	return cmd
}

// progressObserver logs ICP progress every tenth iteration and stops the
// registration when ctx is cancelled.
func progressObserver(ctx context.Context) registration.Observer {
	return registration.ObserverFunc(func(iteration int, rmse float64) bool {
		if iteration%10 == 0 {
			logf("ICP iteration %d: rmse=%.4f", iteration, rmse)
		}
		return ctx.Err() == nil
	})
}

// finishRun writes the artifacts, records the run and prints the report.
func finishRun(cmd *cobra.Command, opts *options, a *pipeline.Analysis, outDir string, noStore bool) error {
	if outDir != "" {
		out, err := report.WriteArtifacts(outDir, a)
		if err != nil {
			return err
		}
		logf("report: %s", out.Markdown)
	}
	if !noStore {
		runs, db, err := opts.openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := runs.Insert(cmd.Context(), &a.Summary); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(a.Summary))
	return err
}
