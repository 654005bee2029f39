package cli

import (
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Run a single alert cycle over stored observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertsOnce(cmd.Context())
	},
}
