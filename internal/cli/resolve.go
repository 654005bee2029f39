package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-gap-monitor/internal/app"
)

var (
	resolveID int64
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Mark an alert as resolved",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resolveID <= 0 {
			return fmt.Errorf("--id must be a positive alert id")
		}

		opts := app.ResolveOptions{
			AlertID: resolveID,
		}

		return getApp().ResolveAlert(cmd.Context(), opts)
	},
}

func init() {
	resolveCmd.Flags().Int64Var(&resolveID, "id", 0, "Alert id to resolve")
}
