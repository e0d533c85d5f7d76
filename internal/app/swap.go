package app

import (
	"context"

	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

// Swap quotes amount of the configured source asset at live prices.
func (a *App) Swap(ctx context.Context, amount decimal.Decimal) (pricing.ConversionQuote, error) {
	conv, closer, err := a.newConverter()
	if err != nil {
		return pricing.ConversionQuote{}, err
	}
	if closer != nil {
		defer closer()
	}
	return conv.Quote(ctx, amount)
}
