package cli

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var swapAmount string

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Quote a conversion of the configured pair at live prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(swapAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount value: %w", err)
		}

		quote, err := getApp().Swap(cmd.Context(), amount)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(quote)
	},
}

func init() {
	swapCmd.Flags().StringVar(&swapAmount, "amount", "1", "Amount of the source asset to convert")
}
