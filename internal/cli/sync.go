package cli

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import the watch list from the configured source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SyncWatchlist(cmd.Context())
	},
}
