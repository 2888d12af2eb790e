package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mailmesh",
	Short: "Mail-driven agent orchestration and parallel branch dispatch",
	Long: `mailmesh fans instructions and contexts out to concurrent model
branches and collects their answers in plan order.

Settings are read from --config, ./mailmesh.yaml or
~/.config/mailmesh/config.yaml, and can be overridden with MAILMESH_*
environment variables (e.g. MAILMESH_MODEL_PROVIDER=openai).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file")

	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
