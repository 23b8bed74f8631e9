package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fitloop",
	Short: "Epoch-level training loop runner",
	Long: `fitloop drives a full training run: epochs of batched optimizer
updates with validation passes, learning rate scheduling, early stopping,
checkpointing and Prometheus metrics.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
