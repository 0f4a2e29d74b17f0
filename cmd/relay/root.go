package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/relay/internal/cli"
	"github.com/aretw0/relay/internal/config"
	"github.com/aretw0/relay/internal/presentation/tui"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Relay submits actions to an on-chain agent and waits for its replies",
	Long:          `Relay keeps chat sessions with an out-of-band processor: each message is signed and broadcast, and the reply is polled from its result location.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default relay.yaml if present)")
	rootCmd.PersistentFlags().String("store", "", "Store driver: memory, file, sqlite or redis")
	rootCmd.PersistentFlags().String("store-path", "", "Directory or database file for the file and sqlite drivers")
	rootCmd.PersistentFlags().String("identity", "", "Wallet address used to sign actions")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("simulate", false, "Use an in-memory ledger that echoes every action")
	rootCmd.PersistentFlags().Bool("json", false, "Print JSON instead of formatted text")
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	flags := cmd.Flags()
	return config.Load(path, func(c *config.Config) {
		if v, _ := flags.GetString("store"); v != "" {
			c.Store.Driver = v
		}
		if v, _ := flags.GetString("store-path"); v != "" {
			c.Store.Path = v
		}
		if v, _ := flags.GetString("identity"); v != "" {
			c.Identity = v
		}
		if v, _ := flags.GetString("log-level"); v != "" {
			c.Log.Level = v
		}
		if flags.Changed("simulate") {
			c.Simulate.Enabled, _ = flags.GetBool("simulate")
		}
	})
}

// openRuntime loads configuration and wires a client. Callers must Close it.
func openRuntime(cmd *cobra.Command, extra ...domain.Hooks) (*cli.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := cli.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	return cli.NewRuntime(cfg, logger, extra...)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func renderer(cmd *cobra.Command) *tui.Renderer {
	return tui.NewRenderer(!jsonOutput(cmd) && isTerminal())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
