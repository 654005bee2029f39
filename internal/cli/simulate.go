package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"price-gap-monitor/internal/app"
)

var (
	simulateGroup      string
	simulateChannel    string
	simulateOwn        string
	simulateCompetitor string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOwn == "" || simulateCompetitor == "" {
			return errors.New("--own 与 --competitor 必须提供")
		}

		opts := app.SimulateOptions{
			ProductGroupKey: simulateGroup,
			Channel:         simulateChannel,
			OwnPrice:        simulateOwn,
			CompetitorPrice: simulateCompetitor,
		}

		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateGroup, "group", "", "商品组标识（默认 SIMULATED）")
	simulateCmd.Flags().StringVar(&simulateChannel, "channel", "", "销售渠道（默认 simulated）")
	simulateCmd.Flags().StringVar(&simulateOwn, "own", "", "自营价格")
	simulateCmd.Flags().StringVar(&simulateCompetitor, "competitor", "", "竞品价格")
}
