package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	apiURL     string
	client     *apiClient
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Adaptive change-detection scheduler for data sources",
	Long: `Mirador Sentinel polls registered data sources on adaptive intervals,
tracks change trends per source and raises alerts when patterns or thresholds trip.

Run "sentinel serve" to start the scheduler, then inspect it with "sentinel status"
and manage sources with "sentinel sources".`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = newAPIClient(apiURL)
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("MIRADOR_SENTINEL_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8090"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Sentinel API URL")
}
