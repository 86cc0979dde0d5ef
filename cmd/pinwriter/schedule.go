package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/pinwriter/internal/schedule"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled content",
	}
	cmd.AddCommand(
		newScheduleAddCmd(opts),
		newScheduleListCmd(opts),
		newScheduleCancelCmd(opts),
		newScheduleUpdateCmd(opts),
		newScheduleStatsCmd(opts),
	)
	return cmd
}

// parseAt accepts either an RFC 3339 timestamp or a duration from now.
func parseAt(at string, in time.Duration) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, errors.New("use either --at or --in")
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at: %w", err)
		}
		return t, nil
	default:
		return time.Now().Add(in), nil
	}
}

func newScheduleAddCmd(opts *rootOptions) *cobra.Command {
	var (
		at, recurrence string
		in             time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add <topic>",
		Short: "Schedule a topic for generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runAt, err := parseAt(at, in)
			if err != nil {
				return err
			}
			rec, err := schedule.ParseRecurrence(recurrence)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				c, err := a.schedules.ScheduleContent(cmd.Context(), args[0], runAt, rec)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s for %s\n", c.ID, when(c.ScheduledAt))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to run at")
	cmd.Flags().DurationVar(&in, "in", 0, "Run after this duration from now (default now)")
	cmd.Flags().StringVarP(&recurrence, "recurrence", "r", "", "none, daily, weekly or monthly")
	return cmd
}

func newScheduleListCmd(opts *rootOptions) *cobra.Command {
	var (
		status   string
		limit    int
		upcoming bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := schedule.Status(status)
			if st != "" && !st.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return withApp(cmd, opts, func(a *app) error {
				var (
					list []schedule.Content
					err  error
				)
				if upcoming {
					list, err = a.schedules.GetUpcomingScheduledContent(cmd.Context(), limit)
				} else {
					list, err = a.schedules.ListContent(cmd.Context(), st, limit)
				}
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tSTATUS\tSCHEDULED\tRECURRENCE\tJOB\tTOPIC")
				for _, c := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						c.ID, c.Status, when(c.ScheduledAt), orDash(string(c.Recurrence)), orDash(c.JobID), c.Topic)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	cmd.Flags().BoolVar(&upcoming, "upcoming", false, "Only pending rows, soonest first")
	return cmd
}

func newScheduleCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel pending scheduled content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ok, err := a.schedules.CancelScheduledContent(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s is not pending", args[0])
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
				return err
			})
		},
	}
}

func newScheduleUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		topic, at, recurrence string
		in                    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit pending scheduled content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd schedule.Update
			if cmd.Flags().Changed("topic") {
				upd.Topic = &topic
			}
			if cmd.Flags().Changed("at") || cmd.Flags().Changed("in") {
				t, err := parseAt(at, in)
				if err != nil {
					return err
				}
				upd.ScheduledAt = &t
			}
			if cmd.Flags().Changed("recurrence") {
				rec, err := schedule.ParseRecurrence(recurrence)
				if err != nil {
					return err
				}
				upd.Recurrence = &rec
			}
			return withApp(cmd, opts, func(a *app) error {
				changed, err := a.schedules.UpdateScheduledContent(cmd.Context(), args[0], upd)
				if err != nil {
					return err
				}
				msg := "updated %s\n"
				if !changed {
					msg = "%s unchanged (not pending or nothing to change)\n"
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), msg, args[0])
				return err
			})
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "New topic")
	cmd.Flags().StringVar(&at, "at", "", "New RFC 3339 time")
	cmd.Flags().DurationVar(&in, "in", 0, "New time as a duration from now")
	cmd.Flags().StringVarP(&recurrence, "recurrence", "r", "", "none, daily, weekly or monthly")
	return cmd
}

func newScheduleStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show scheduler counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				st, err := a.schedules.GetSchedulerStats(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(),
					"pending=%d processing=%d completed_today=%d failed_today=%d upcoming_24h=%d\n",
					st.Pending, st.Processing, st.CompletedToday, st.FailedToday, st.Upcoming24h)
				return err
			})
		},
	}
}
