package storage

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

// TimeSeriesStore is the append-only price history used by ingestion and detection.
type TimeSeriesStore interface {
	// Append persists one sample. Failures wrap pricing.ErrStoreUnavailable.
	Append(ctx context.Context, asset string, price decimal.Decimal, ts time.Time) error
	// FindNearestAtOrBefore returns the latest sample with timestamp <= target, or pricing.ErrNotFound.
	FindNearestAtOrBefore(ctx context.Context, asset string, target time.Time) (pricing.PriceSample, error)
	// RangeDescending yields samples with timestamp >= since, newest first. Each call starts a new scan.
	RangeDescending(ctx context.Context, asset string, since time.Time) iter.Seq2[pricing.PriceSample, error]
}

// HistoryReader serves the CLI inspection commands.
type HistoryReader interface {
	ListRecent(ctx context.Context, asset string, limit int) ([]pricing.PriceSample, error)
	ListBetween(ctx context.Context, asset string, from, to time.Time) ([]pricing.PriceSample, error)
}

// Repository is implemented by every backend.
type Repository interface {
	TimeSeriesStore
	HistoryReader
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Collect drains a sample sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[pricing.PriceSample, error]) ([]pricing.PriceSample, error) {
	samples := make([]pricing.PriceSample, 0)
	for sample, err := range seq {
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", pricing.ErrStoreUnavailable, op, err)
}

func errorSeq(err error) iter.Seq2[pricing.PriceSample, error] {
	return func(yield func(pricing.PriceSample, error) bool) {
		yield(pricing.PriceSample{}, err)
	}
}
