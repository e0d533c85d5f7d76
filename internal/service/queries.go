package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
	"price-tracker/internal/storage"
)

// GetHourlyPrices returns the trailing 24h of samples, most recent first. No history is an empty slice.
func (s *Service) GetHourlyPrices(ctx context.Context, asset string) ([]pricing.PriceSample, error) {
	asset = pricing.NormalizeAsset(asset)
	if asset == "" {
		return nil, fmt.Errorf("%w: chain is required", pricing.ErrInvalidArgument)
	}
	return storage.Collect(s.store.RangeDescending(ctx, asset, s.now().Add(-HistoryWindow)))
}

// SetPriceAlert sends a one-shot acknowledgement. No standing watch is registered.
func (s *Service) SetPriceAlert(ctx context.Context, asset string, price decimal.Decimal, email string) (string, error) {
	asset = pricing.NormalizeAsset(asset)
	if asset == "" {
		return "", fmt.Errorf("%w: chain is required", pricing.ErrInvalidArgument)
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("%w: price must be positive", pricing.ErrInvalidArgument)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: email %q: %v", pricing.ErrInvalidArgument, email, err)
	}
	if s.dispatcher == nil {
		return "", fmt.Errorf("%w: no notification channel configured", pricing.ErrNotificationFailure)
	}

	if err := s.dispatcher.Acknowledge(ctx, asset, price, addr.Address); err != nil {
		return "", err
	}
	s.logger.Info().Str("asset", asset).Str("price", price.String()).Str("email", addr.Address).Msg("price alert acknowledged")
	return fmt.Sprintf("Alert set for %s at $%s for %s", asset, price.String(), addr.Address), nil
}

// GetSwapRate quotes the configured pair for amount of the source asset.
func (s *Service) GetSwapRate(ctx context.Context, amount decimal.Decimal) (pricing.ConversionQuote, error) {
	if s.converter == nil {
		return pricing.ConversionQuote{}, fmt.Errorf("%w: converter not configured", pricing.ErrFeedUnavailable)
	}
	return s.converter.Quote(ctx, amount)
}

// GetLatestPrice serves the last ingested sample, preferring the cache.
func (s *Service) GetLatestPrice(ctx context.Context, asset string) (pricing.PriceSample, error) {
	asset = pricing.NormalizeAsset(asset)
	if asset == "" {
		return pricing.PriceSample{}, fmt.Errorf("%w: chain is required", pricing.ErrInvalidArgument)
	}

	if s.cache != nil {
		sample, err := s.cache.GetLatest(ctx, asset)
		if err == nil {
			return sample, nil
		}
		if !errors.Is(err, pricing.ErrNotFound) {
			s.logger.Warn().Err(err).Str("asset", asset).Msg("latest price cache read failed, falling back to store")
		}
	}
	return s.store.FindNearestAtOrBefore(ctx, asset, s.now())
}

// Assets lists the tracked assets.
func (s *Service) Assets() []string {
	return append([]string(nil), s.opts.Assets...)
}
