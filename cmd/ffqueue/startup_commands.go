package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ffqueue/internal/ipc"
	"ffqueue/internal/recovery"
)

func newStartupCommand(ctx *commandContext) *cobra.Command {
	startupCmd := &cobra.Command{
		Use:   "startup",
		Short: "Handle jobs paused by the last shutdown or crash",
	}

	var asJSON bool
	hintCmd := &cobra.Command{
		Use:   "hint",
		Short: "Show the pending startup prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartupHint()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), hintMessage(resp.Hint))
				return nil
			})
		},
	}
	hintCmd.Flags().BoolVar(&asJSON, "json", false, "Print the hint as JSON")

	dismissCmd := &cobra.Command{
		Use:   "dismiss",
		Short: "Leave auto-paused jobs paused and stop prompting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.DismissStartupHint(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Startup prompt dismissed")
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume every auto-paused job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ResumeStartupQueue()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %d job(s)\n", resp.Resumed)
				return nil
			})
		},
	}

	startupCmd.AddCommand(hintCmd, dismissCmd, resumeCmd)
	return startupCmd
}

func hintMessage(hint *recovery.Hint) string {
	if hint == nil {
		return "No jobs are waiting to be resumed"
	}
	var why string
	switch hint.Kind {
	case recovery.HintCrashOrKill:
		why = "the daemon stopped unexpectedly"
	case recovery.HintPauseOnExit:
		why = "they were paused when the daemon stopped"
	default:
		why = "they are still paused from an earlier session"
	}
	return fmt.Sprintf("%d job(s) are paused because %s. Run `ffqueue startup resume` to continue them or `ffqueue startup dismiss` to keep them paused.", hint.AutoPausedJobCount, why)
}
