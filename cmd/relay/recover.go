package main

import (
	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/cli"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resume the last unresolved poll",
	Long:  `Picks up a poll that timed out or was canceled and waits for its result again.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		out, err := rt.Client.Recover(ctx)
		if err != nil {
			return cli.HandleExecutionError(err)
		}
		if jsonOutput(cmd) {
			return printJSON(cmd, out)
		}
		if err := cli.PrintOutcome(cmd.OutOrStdout(), renderer(cmd), out); err != nil {
			return err
		}
		if out.Status == relay.StatusNothingPending {
			cli.PrintSystemMessage(cmd.OutOrStdout(), "Nothing to recover.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
