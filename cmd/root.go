package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docflow/src/log"
)

var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "Multi-tenant background job engine for document processing",
	Long: `Docflow runs document-intelligence jobs (extraction, transformation,
multi-stage pipelines) as background work: an HTTP API to submit and track
jobs, a worker fleet that claims and executes them, and a monitor that
recovers work lost to dead workers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetString("log.mode") == "production" {
			log.UseProduction()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	settingDefaultConfig()
}
