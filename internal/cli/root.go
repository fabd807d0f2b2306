// Package cli implements the batchctl command line tool: batch submission,
// status checks and cost-log exports against a running API instance.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batchctl",
		Short: "Operate scene image batches from the terminal",
		Long: `batchctl talks to a running scenebatch API: submit scene batches,
watch their status, and export the append-only cost log for reconciliation.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env if present (ignore errors).
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().String("server", "http://localhost:8080", "base URL of the API server")
	cmd.PersistentFlags().String("user", "", "user id sent as X-User-ID")

	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}
