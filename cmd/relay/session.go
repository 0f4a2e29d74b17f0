package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage chat sessions",
	Long:  `Create, list and inspect the sessions kept in the recovery store.`,
}

var sessionNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Start a new session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		title := ""
		if len(args) > 0 {
			title = args[0]
		}
		session, err := rt.Client.StartSession(cmd.Context(), title)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cmd, session)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started session %s (result location %s)\n", session.CorrelationID, session.ResultLocation)
		return nil
	},
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		sessions, err := rt.Client.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cmd, sessions)
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		fmt.Fprintln(out, "Sessions:")
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(out, "- %s  %s  %d messages\n", s.CorrelationID, title, len(s.Messages))
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <correlation-id>",
	Short: "Print the transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		session, err := rt.Client.Session(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", args[0], err)
		}
		if jsonOutput(cmd) {
			return printJSON(cmd, session)
		}
		text, err := renderer(cmd).Transcript(session)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionShowCmd)
}
