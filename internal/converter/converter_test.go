package converter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker/internal/fetcher"
	"price-tracker/internal/pricing"
)

type staticFeed struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
	calls  atomic.Int32
}

func (f *staticFeed) FetchSpotPrice(_ context.Context, asset string) (decimal.Decimal, error) {
	f.calls.Add(1)
	if err := f.errs[asset]; err != nil {
		return decimal.Decimal{}, err
	}
	return f.prices[asset], nil
}

type batchFeed struct {
	staticFeed
	batches atomic.Int32
}

func (f *batchFeed) FetchSpotPrices(_ context.Context, assets []string) (map[string]decimal.Decimal, error) {
	f.batches.Add(1)
	out := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		if err := f.errs[asset]; err != nil {
			return nil, err
		}
		out[asset] = f.prices[asset]
	}
	return out, nil
}

func newConverter(feed fetcher.SpotPriceFetcher) *Converter {
	return New(feed, Options{
		SourceAsset: "ethereum",
		TargetAsset: "bitcoin",
		FeeRate:     decimal.RequireFromString("0.0003"),
	}, zerolog.Nop())
}

func pairPrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"ethereum": decimal.NewFromInt(2000),
		"bitcoin":  decimal.NewFromInt(40000),
	}
}

func TestQuote(t *testing.T) {
	feed := &staticFeed{prices: pairPrices()}
	quote, err := newConverter(feed).Quote(context.Background(), decimal.NewFromInt(2))
	require.NoError(t, err)

	assert.True(t, quote.TargetAmount.Equal(decimal.RequireFromString("0.1")), quote.TargetAmount.String())
	assert.True(t, quote.FeeInSource.Equal(decimal.RequireFromString("0.0006")), quote.FeeInSource.String())
	assert.True(t, quote.FeeInTargetCurrency.Equal(decimal.RequireFromString("1.2")), quote.FeeInTargetCurrency.String())
	assert.Equal(t, "ethereum", quote.SourceAsset)
	assert.Equal(t, "bitcoin", quote.TargetAsset)
	assert.EqualValues(t, 2, feed.calls.Load())
}

func TestQuoteUsesBatchFetcher(t *testing.T) {
	feed := &batchFeed{staticFeed: staticFeed{prices: pairPrices()}}
	quote, err := newConverter(feed).Quote(context.Background(), decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, quote.TargetAmount.Equal(decimal.RequireFromString("0.1")))
	assert.EqualValues(t, 1, feed.batches.Load())
	assert.Zero(t, feed.calls.Load())
}

func TestQuoteZeroAmountSkipsFeed(t *testing.T) {
	feed := &staticFeed{errs: map[string]error{"ethereum": errors.New("must not be called")}}
	quote, err := newConverter(feed).Quote(context.Background(), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, quote.TargetAmount.IsZero())
	assert.True(t, quote.FeeInSource.IsZero())
	assert.True(t, quote.FeeInTargetCurrency.IsZero())
	assert.Zero(t, feed.calls.Load())
}

func TestQuoteNegativeAmount(t *testing.T) {
	_, err := newConverter(&staticFeed{}).Quote(context.Background(), decimal.NewFromInt(-1))
	require.ErrorIs(t, err, pricing.ErrInvalidAmount)
}

func TestQuoteFeedFailures(t *testing.T) {
	cases := map[string]error{
		"unavailable": fmt.Errorf("%w: coingecko: timeout", pricing.ErrFeedUnavailable),
		"invalid":     fmt.Errorf("%w: coingecko: bitcoin.usd missing", pricing.ErrInvalidResponse),
	}
	for name, feedErr := range cases {
		t.Run(name, func(t *testing.T) {
			feed := &staticFeed{prices: pairPrices(), errs: map[string]error{"bitcoin": feedErr}}
			_, err := newConverter(feed).Quote(context.Background(), decimal.NewFromInt(1))
			require.ErrorIs(t, err, pricing.ErrFeedUnavailable)
			require.ErrorIs(t, err, feedErr)
		})
	}
}
