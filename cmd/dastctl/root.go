package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "dastctl",
		Short:         "Run DAST scans and publish their results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.bootstrap(cmd.Context(), cmd.CommandPath())
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "path to dastctl.yaml (default: ./dastctl.yaml or ~/.dastctl/dastctl.yaml)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides log.level)")
	flags.DurationVar(&a.opts.timeout, "timeout", 0, "abort the command after this long (0 waits forever)")

	root.AddCommand(newWebInspectCmd(a), newFortifyCmd(a), newGitCmd(a))
	return root
}
