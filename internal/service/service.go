package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"price-tracker/internal/alerting"
	"price-tracker/internal/converter"
	"price-tracker/internal/detector"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/pricing"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/storage"
)

// HistoryWindow is the span served by GetHourlyPrices.
const HistoryWindow = 24 * time.Hour

// LatestCache is the optional write-through cache of each asset's last sample.
type LatestCache interface {
	SetLatest(ctx context.Context, sample pricing.PriceSample) error
	GetLatest(ctx context.Context, asset string) (pricing.PriceSample, error)
}

// Options tune cycle execution.
type Options struct {
	Assets          []string
	Workers         int
	FetchTimeout    time.Duration
	AdvisoryLockKey int64
	AlertsEnabled   bool
}

// Deps are the collaborators wired by the app layer. Cache, Dispatcher, Converter and Scheduler may be nil.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Feed       fetcher.SpotPriceFetcher
	Store      storage.TimeSeriesStore
	Cache      LatestCache
	Detector   *detector.Detector
	Dispatcher *alerting.Dispatcher
	Converter  *converter.Converter
}

// Service orchestrates ingestion cycles and serves the on-demand operations.
type Service struct {
	scheduler  *scheduler.Scheduler
	feed       fetcher.SpotPriceFetcher
	store      storage.TimeSeriesStore
	cache      LatestCache
	detector   *detector.Detector
	dispatcher *alerting.Dispatcher
	converter  *converter.Converter
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs the monitoring service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  deps.Scheduler,
		feed:       deps.Feed,
		store:      deps.Store,
		cache:      deps.Cache,
		detector:   deps.Detector,
		dispatcher: deps.Dispatcher,
		converter:  deps.Converter,
		locker:     locker,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the scheduled ingestion loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle runs one cycle under the advisory lock when the store provides one.
// It only returns an error when every asset failed.
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report := s.RunCycle(ctx, at)
	if len(report.Results) > 0 && report.Failed() == len(report.Results) {
		return fmt.Errorf("cycle %s: all %d assets failed", report.ID, len(report.Results))
	}
	return nil
}

// RunCycle performs fetch, persist, detect and dispatch for every tracked asset.
// Per-asset failures are isolated and recorded in the report.
func (s *Service) RunCycle(ctx context.Context, at time.Time) CycleReport {
	report := CycleReport{
		ID:      uuid.NewString(),
		At:      at,
		Results: make([]AssetResult, len(s.opts.Assets)),
	}
	logger := s.logger.With().Str("cycle_id", report.ID).Logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, asset := range s.opts.Assets {
		g.Go(func() error {
			report.Results[i] = s.processAsset(gctx, logger, asset, at)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info().
		Time("at", at).
		Int("assets", len(report.Results)).
		Int("stored", report.Stored()).
		Int("alerts", report.Alerted()).
		Int("failed", report.Failed()).
		Msg("cycle completed")
	return report
}

func (s *Service) processAsset(ctx context.Context, cycleLogger zerolog.Logger, asset string, at time.Time) AssetResult {
	logger := cycleLogger.With().Str("asset", asset).Logger()
	result := AssetResult{Asset: asset}

	price, err := s.fetch(ctx, asset)
	if err != nil {
		logger.Error().Err(err).Msg("fetch spot price failed")
		return result.fail(OutcomeFetchFailed, err)
	}
	result.Price = price

	if err := s.store.Append(ctx, asset, price, at); err != nil {
		logger.Error().Err(err).Str("price", price.String()).Msg("persist sample failed")
		return result.fail(OutcomeStoreFailed, err)
	}
	result.Outcome = OutcomeStored

	if s.cache != nil {
		sample := pricing.PriceSample{Asset: asset, Price: price, Timestamp: at}
		if err := s.cache.SetLatest(ctx, sample); err != nil {
			logger.Warn().Err(err).Msg("update latest price cache failed")
		}
	}

	if s.detector == nil {
		return result
	}
	eval, err := s.detector.Evaluate(ctx, asset, price, at)
	if err != nil {
		logger.Error().Err(err).Msg("change detection failed")
		return result.fail(OutcomeDetectFailed, err)
	}
	result.Detection = eval.Status
	logger.Info().
		Str("price", price.String()).
		Str("status", string(eval.Status)).
		Str("change_pct", eval.PercentChange.StringFixed(3)).
		Msg("sample recorded")

	if !eval.Triggered() || !s.opts.AlertsEnabled || s.dispatcher == nil {
		return result
	}
	if err := s.dispatcher.Dispatch(ctx, *eval.Event); err != nil {
		// The sample stays stored; the alert is not retried.
		return result.fail(OutcomeNotifyFailed, err)
	}
	result.Outcome = OutcomeAlerted
	return result
}

func (s *Service) fetch(ctx context.Context, asset string) (decimal.Decimal, error) {
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}

	price, err := s.feed.FetchSpotPrice(ctx, asset)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, pricing.ErrFeedUnavailable) {
			return decimal.Decimal{}, fmt.Errorf("%w: %s: %w", pricing.ErrFeedUnavailable, asset, err)
		}
		return decimal.Decimal{}, err
	}
	return price, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
