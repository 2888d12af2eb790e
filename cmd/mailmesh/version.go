package main

import (
	"fmt"

	"github.com/hupe1980/mailmesh"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mailmesh version %s\n", mailmesh.Version)
	},
}
