package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/relay/internal/cli"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <text>...",
	Short: "Queue an action to be sent later",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		text := strings.Join(args, " ")
		if err := rt.Client.Enqueue(cmd.Context(), text); err != nil {
			return err
		}
		cli.PrintSystemMessage(cmd.OutOrStdout(), "Queued %q.", text)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending queue",
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List queued actions in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		pending, err := rt.Client.Pending(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cmd, pending)
		}
		cli.PrintPending(cmd.OutOrStdout(), pending)
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain <correlation-id>",
	Short: "Send every queued action into a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		report, err := rt.Client.Drain(ctx, args[0])
		if err != nil {
			return cli.HandleExecutionError(err)
		}
		if jsonOutput(cmd) {
			failed := make([]string, 0, len(report.Failed))
			for _, f := range report.Failed {
				failed = append(failed, fmt.Sprintf("%s: %v", f.Text, f.Err))
			}
			return printJSON(cmd, map[string]any{
				"skipped":   report.Skipped,
				"processed": report.Processed,
				"failed":    failed,
				"remaining": report.Remaining,
			})
		}
		cli.PrintReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(drainCmd)
	queueCmd.AddCommand(queueLsCmd)
}
