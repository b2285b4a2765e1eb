package commands

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "guardianctl",
	Short: "Operator tooling for the SOS dispatch service",
	Long: `guardianctl inspects and repairs SOS dispatch state over the service
HTTP API. The primary workflow is sweeping for events whose notification
delivery exhausted all retries, then retrying or cancelling them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3000", "Service base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (falls back to GUARDIAN_TOKEN)")
}
