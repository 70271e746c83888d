package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "ghwatch",
		Short: "Watch GitHub repositories and packages and post new activity to Telegram",
		// bare "ghwatch" runs the bot
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), cfgPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")

	root.AddCommand(newRunCmd(&cfgPath), newCheckCmd(), newResolveCmd())
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), *cfgPath)
		},
	}
}
