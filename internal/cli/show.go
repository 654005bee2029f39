package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-gap-monitor/internal/app"
)

var (
	showLimit        int
	showObservations bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alerts or price observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		if showObservations {
			return getApp().ShowObservations(cmd.Context(), opts)
		}
		return getApp().ShowAlerts(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showObservations, "observations", false, "Show price observations instead of alerts")
}
