package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAsset string
	simulateFrom  string
	simulateTo    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一小时内的价格变动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := decimal.NewFromString(simulateFrom)
		if err != nil {
			return fmt.Errorf("invalid --from-price value: %w", err)
		}
		to, err := decimal.NewFromString(simulateTo)
		if err != nil {
			return fmt.Errorf("invalid --to-price value: %w", err)
		}
		if !from.IsPositive() || !to.IsPositive() {
			return errors.New("--from-price 与 --to-price 必须大于 0")
		}

		result, err := getApp().SimulateAlert(cmd.Context(), simulateAsset, from, to)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "asset: %s\noutcome: %s\ndetection: %s\n", result.Asset, result.Outcome, result.Detection)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "资产 (默认第一个跟踪资产)")
	simulateCmd.Flags().StringVar(&simulateFrom, "from-price", "", "一小时前的参考价格 (USD)")
	simulateCmd.Flags().StringVar(&simulateTo, "to-price", "", "当前价格 (USD)")
	_ = simulateCmd.MarkFlagRequired("from-price")
	_ = simulateCmd.MarkFlagRequired("to-price")
}
