package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tokenforge/pkg/config"
	"tokenforge/pkg/logx"
)

var rootCmd = &cobra.Command{
	Use:   "tokenforge",
	Short: "tokenforge extracts design tokens from UI screenshots",
	Long: `tokenforge drives batches of screenshots through a five stage pipeline
(preprocess, extract, aggregate, validate, generate) using vision models
as extractors, and writes design token artifacts per image.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logx.SetDebug(true)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("project", ".", "Project directory holding the .tokenforge state")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// loadConfig reads the --config file, falling back to defaults when the
// flag is unset.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
