package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-gap-monitor/internal/app"
)

var (
	fetchMode   string
	fetchDryRun bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch prices for the currently due watch entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchMode == "" {
			return fmt.Errorf("--mode must be provided (own, competitor, or both)")
		}

		opts := app.FetchOptions{
			Mode:   fetchMode,
			DryRun: fetchDryRun,
		}

		return getApp().FetchOnce(cmd.Context(), opts)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchMode, "mode", "", "Due-set selection: own, competitor, or the legacy both")
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "List the due entities without fetching")
}
