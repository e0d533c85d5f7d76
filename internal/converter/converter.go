// Package converter quotes a fixed asset pair at live spot prices with a flat fee.
package converter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"price-tracker/internal/fetcher"
	"price-tracker/internal/pricing"
)

// Options fix the pair and fee model.
type Options struct {
	SourceAsset string
	TargetAsset string
	FeeRate     decimal.Decimal
}

// Converter is stateless apart from its feed client and may be shared across requests.
type Converter struct {
	feed   fetcher.SpotPriceFetcher
	opts   Options
	logger zerolog.Logger
}

// New builds a converter.
func New(feed fetcher.SpotPriceFetcher, opts Options, logger zerolog.Logger) *Converter {
	return &Converter{
		feed:   feed,
		opts:   opts,
		logger: logger.With().Str("component", "converter").Logger(),
	}
}

// Quote converts amount of the source asset into the target asset.
// A zero amount short-circuits to a zero quote without contacting the feed.
func (c *Converter) Quote(ctx context.Context, amount decimal.Decimal) (pricing.ConversionQuote, error) {
	if amount.IsNegative() {
		return pricing.ConversionQuote{}, fmt.Errorf("%w: %s", pricing.ErrInvalidAmount, amount.String())
	}

	quote := pricing.ConversionQuote{
		SourceAmount:        amount,
		SourceAsset:         c.opts.SourceAsset,
		TargetAsset:         c.opts.TargetAsset,
		SourceSpot:          decimal.Zero,
		TargetSpot:          decimal.Zero,
		TargetAmount:        decimal.Zero,
		FeeInSource:         decimal.Zero,
		FeeInTargetCurrency: decimal.Zero,
	}
	if amount.IsZero() {
		return quote, nil
	}

	sourceSpot, targetSpot, err := c.spots(ctx)
	if err != nil {
		return pricing.ConversionQuote{}, err
	}

	fee := amount.Mul(c.opts.FeeRate)
	quote.SourceSpot = sourceSpot
	quote.TargetSpot = targetSpot
	quote.TargetAmount = amount.Mul(sourceSpot).Div(targetSpot)
	quote.FeeInSource = fee
	quote.FeeInTargetCurrency = fee.Mul(sourceSpot)

	c.logger.Debug().
		Str("amount", amount.String()).
		Str("source_spot", sourceSpot.String()).
		Str("target_spot", targetSpot.String()).
		Str("target_amount", quote.TargetAmount.String()).
		Msg("quote computed")
	return quote, nil
}

func (c *Converter) spots(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	if batch, ok := c.feed.(fetcher.BatchFetcher); ok {
		prices, err := batch.FetchSpotPrices(ctx, []string{c.opts.SourceAsset, c.opts.TargetAsset})
		if err != nil {
			return decimal.Zero, decimal.Zero, asFeedUnavailable(err)
		}
		return prices[c.opts.SourceAsset], prices[c.opts.TargetAsset], nil
	}

	var sourceSpot, targetSpot decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceSpot, err = c.feed.FetchSpotPrice(gctx, c.opts.SourceAsset)
		return err
	})
	g.Go(func() error {
		var err error
		targetSpot, err = c.feed.FetchSpotPrice(gctx, c.opts.TargetAsset)
		return err
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, decimal.Zero, asFeedUnavailable(err)
	}
	return sourceSpot, targetSpot, nil
}

// asFeedUnavailable adds ErrFeedUnavailable to the chain without dropping the underlying kind.
func asFeedUnavailable(err error) error {
	if errors.Is(err, pricing.ErrFeedUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", pricing.ErrFeedUnavailable, err)
}
