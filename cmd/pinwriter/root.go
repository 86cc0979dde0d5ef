package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "pinwriter",
		Short:        "Generate, publish and pin parenting blog content on a schedule",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config.yaml (default $PINWRITER_CONFIG or ./config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newScheduleCmd(opts),
		newJobsCmd(opts),
		newRetriesCmd(opts),
	)
	return cmd
}

// withApp opens the app for the duration of fn. Logs go to stderr so that
// command output on stdout stays parseable.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	a, err := openApp(opts.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
