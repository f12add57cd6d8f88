package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "ffqueue",
		Short:         "Persistent ffmpeg transcode queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.socket, "socket", "", "Daemon socket path (default: <data_dir>/ffqueue.sock)")
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newDaemonCommands(ctx)...)
	rootCmd.AddCommand(
		newDaemonRunCommand(ctx),
		newQueueCommand(ctx),
		newStartupCommand(ctx),
		newWatchCommand(ctx),
		newConfigCommand(ctx),
	)

	return rootCmd
}
