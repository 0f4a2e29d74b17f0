package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/cli"
	"github.com/aretw0/relay/internal/presentation/tui"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <correlation-id> <text>...",
	Short: "Submit one action and wait for its result",
	Long: `Signs and broadcasts the action, then polls the session's result location
until the reply arrives or the poll window ends. Rejected actions are queued.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		out, err := rt.Client.Send(ctx, args[0], strings.Join(args[1:], " "))
		if jsonOutput(cmd) && out.Status != "" {
			if perr := printJSON(cmd, out); perr != nil {
				return perr
			}
		} else if perr := cli.PrintOutcome(cmd.OutOrStdout(), renderer(cmd), out); perr != nil {
			return perr
		}
		return cli.HandleExecutionError(err)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [correlation-id]",
	Short: "Chat interactively within a session",
	Long: `Reads one action per line from stdin. Without a correlation id a new session is started.
Commands: /drain, /recover, /queue, /history, /quit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		var session *domain.Session
		if len(args) > 0 {
			session, err = rt.Client.Session(ctx, args[0])
		} else {
			title, _ := cmd.Flags().GetString("title")
			session, err = rt.Client.StartSession(ctx, title)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		interactive := isTerminal()
		if interactive {
			tui.PrintBanner(out, relay.Version)
			cli.PrintSystemMessage(out, "Session %s. Type /quit to leave.", session.CorrelationID)
		}

		err = cli.RunChat(ctx, rt.Client, cli.ChatOptions{
			CorrelationID: session.CorrelationID,
			In:            os.Stdin,
			Out:           out,
			Renderer:      tui.NewRenderer(interactive),
			Quiet:         !interactive,
		})
		if sig := ctx.Signal(); sig != nil {
			fmt.Fprintln(out)
			cli.PrintSystemMessage(out, "Interrupted (%v).", sig)
		}
		return cli.HandleExecutionError(err)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("title", "", "Title of the new session")
}
