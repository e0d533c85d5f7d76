// Package detector compares a fresh price against the nearest stored sample one lookback earlier.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
	"price-tracker/internal/storage"
)

// Status classifies an evaluation.
type Status string

const (
	StatusTriggered           Status = "triggered"
	StatusBelowThreshold      Status = "below_threshold"
	StatusInsufficientHistory Status = "insufficient_history"
)

var hundred = decimal.NewFromInt(100)

// Options configure a Detector.
type Options struct {
	Lookback     time.Duration
	ThresholdPct decimal.Decimal
	Recipient    string
}

// Evaluation is the outcome of one detector run. Event is set only when Status is StatusTriggered.
type Evaluation struct {
	Status        Status
	Reference     *pricing.PriceSample
	PercentChange decimal.Decimal
	Event         *pricing.AlertEvent
}

// Triggered reports whether an alert should be dispatched.
func (e Evaluation) Triggered() bool {
	return e.Status == StatusTriggered && e.Event != nil
}

// Detector evaluates upward moves over a fixed lookback.
type Detector struct {
	store  storage.TimeSeriesStore
	opts   Options
	logger zerolog.Logger
}

// New builds a detector. Lookback must be positive.
func New(store storage.TimeSeriesStore, opts Options, logger zerolog.Logger) *Detector {
	if opts.Lookback <= 0 {
		panic("detector lookback must be positive")
	}
	return &Detector{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "detector").Logger(),
	}
}

// Lookback returns the configured lookback.
func (d *Detector) Lookback() time.Duration {
	return d.opts.Lookback
}

// Evaluate looks up the reference sample at or before at-lookback and compares it with price.
// Missing or non-positive references yield StatusInsufficientHistory without an error.
func (d *Detector) Evaluate(ctx context.Context, asset string, price decimal.Decimal, at time.Time) (Evaluation, error) {
	target := at.Add(-d.opts.Lookback)

	reference, err := d.store.FindNearestAtOrBefore(ctx, asset, target)
	if errors.Is(err, pricing.ErrNotFound) {
		d.logger.Debug().Str("asset", asset).Time("target", target).Msg("no reference sample")
		return Evaluation{Status: StatusInsufficientHistory}, nil
	}
	if err != nil {
		if errors.Is(err, pricing.ErrStoreUnavailable) {
			return Evaluation{}, fmt.Errorf("lookup reference for %s: %w", asset, err)
		}
		return Evaluation{}, fmt.Errorf("%w: lookup reference for %s: %w", pricing.ErrStoreUnavailable, asset, err)
	}
	if !reference.Price.IsPositive() {
		d.logger.Warn().Str("asset", asset).Str("reference", reference.Price.String()).Msg("ignoring non-positive reference price")
		return Evaluation{Status: StatusInsufficientHistory}, nil
	}

	change := PercentChange(reference.Price, price)
	eval := Evaluation{
		Status:        StatusBelowThreshold,
		Reference:     &reference,
		PercentChange: change,
	}
	if !change.GreaterThan(d.opts.ThresholdPct) {
		return eval, nil
	}

	eval.Status = StatusTriggered
	eval.Event = &pricing.AlertEvent{
		Asset:           asset,
		TriggeringPrice: price,
		ReferencePrice:  reference.Price,
		PercentChange:   change,
		ThresholdPct:    d.opts.ThresholdPct,
		ObservedAt:      at,
		ReferenceAt:     reference.Timestamp,
		Recipient:       d.opts.Recipient,
	}
	return eval, nil
}

// PercentChange returns (current-reference)/reference*100. reference must be non-zero.
func PercentChange(reference, current decimal.Decimal) decimal.Decimal {
	return current.Sub(reference).Mul(hundred).Div(reference)
}
