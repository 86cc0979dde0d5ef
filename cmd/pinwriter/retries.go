package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetriesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retries",
		Short: "Inspect the retry queue",
	}
	cmd.AddCommand(newRetriesListCmd(opts), newRetriesStatsCmd(opts), newRetriesCancelCmd(opts))
	return cmd
}

func newRetriesListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retry entries, next attempt first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				list, err := a.retries.ListEntries(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "JOB\tATTEMPTS\tNEXT\tLAST ERROR")
				for _, e := range list {
					next := when(e.NextRetryAt)
					if e.Exhausted() {
						next = "exhausted"
					}
					fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%s\n", e.JobID, e.RetryCount, e.MaxRetries, next, orDash(e.LastError))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func newRetriesStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show retry queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				st, err := a.retries.GetRetryQueueStats(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pending=%d due_now=%d exhausted=%d\n", st.Pending, st.DueNow, st.Exhausted)
				return err
			})
		},
	}
}

func newRetriesCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Drop the retry entry of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ok, err := a.retries.CancelRetries(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no retry entry for %s", args[0])
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "cancelled retries for %s\n", args[0])
				return err
			})
		},
	}
}
