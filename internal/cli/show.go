package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	showAsset string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Asset: showAsset,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showAsset, "asset", "", "Asset to display (defaults to every tracked asset)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display per asset")
}
