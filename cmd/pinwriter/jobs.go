package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/pinwriter/internal/jobs"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run pipeline jobs",
	}
	cmd.AddCommand(newJobsListCmd(opts), newJobsGetCmd(opts), newJobsRunCmd(opts))
	return cmd
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				list, err := a.jobs.ListJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tUPDATED\tTOPIC")
				for _, j := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Status, when(j.CreatedAt), when(j.UpdatedAt), j.Topic)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}

func newJobsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				job, err := a.jobs.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

// newJobsRunCmd runs one topic through the pipeline in the foreground. The
// outcome is settled like any queued job, so a failure lands in the retry
// queue for a running server to pick up.
func newJobsRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <topic>",
		Short: "Run the pipeline for a topic and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				worker, err := a.worker()
				if err != nil {
					return err
				}
				orch := a.orchestrator(worker)
				job, err := a.jobs.CreateJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				runErr := orch.Process(cmd.Context(), jobs.WorkItem{Job: *job})
				job, err = a.jobs.GetJob(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), job); err != nil {
					return err
				}
				return runErr
			})
		},
	}
}
