package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scandiff/internal/report"
)

func newRunsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the recorded analysis runs",
	}
	cmd.AddCommand(newRunsListCmd(opts), newRunsShowCmd(opts), newRunsDeleteCmd(opts))
	return cmd
}

func newRunsListCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, db, err := opts.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := runs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCREATED\tTARGET\tFITNESS\tQUALITY\tCLUSTERS")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%s\t%d\n",
					s.RunID, s.CreatedAt.Format(time.DateTime), s.TargetName, s.ICPFitness, s.Quality, s.NumClusters)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")
	return cmd
}

func newRunsShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the report of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, db, err := opts.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := runs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(*s))
			return err
		},
	}
}

func newRunsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run and its clusters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, db, err := opts.openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			return runs.Delete(cmd.Context(), args[0])
		},
	}
}
