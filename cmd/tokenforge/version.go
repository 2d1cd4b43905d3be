package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tokenforge/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tokenforge",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("tokenforge version %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
