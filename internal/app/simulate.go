package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/alerting"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/pricing"
	"price-tracker/internal/service"
	"price-tracker/internal/storage"
)

// SimulateAlert 在内存中构造 reference 与 current 两个价格，走一遍完整的检测与告警流程。
func (a *App) SimulateAlert(ctx context.Context, asset string, reference, current decimal.Decimal) (service.AssetResult, error) {
	if !a.Config.Alerting.Enabled {
		return service.AssetResult{}, errors.New("alerting 未启用")
	}
	asset = pricing.NormalizeAsset(asset)
	if asset == "" {
		asset = a.Config.Assets[0]
	}

	channel, closeChannel, err := a.newChannel()
	if err != nil {
		return service.AssetResult{}, err
	}
	if channel == nil {
		return service.AssetResult{}, errors.New("未配置任何告警通道")
	}
	defer closeChannel()

	now := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	store := storage.NewMemoryStore(0)
	if err := store.Append(ctx, asset, reference, now.Add(-a.Config.Detector.Lookback)); err != nil {
		return service.AssetResult{}, err
	}

	opts := a.serviceOptions()
	opts.Assets = []string{asset}

	svc := service.New(service.Deps{
		Feed:       &staticFetcher{price: current},
		Store:      store,
		Detector:   a.newDetector(store),
		Dispatcher: alerting.NewDispatcher(channel, a.Logger),
	}, opts, a.Logger)

	report := svc.RunCycle(ctx, now)
	result, _ := report.Result(asset)
	return result, result.Err
}

type staticFetcher struct {
	price decimal.Decimal
}

func (s *staticFetcher) FetchSpotPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	return s.price, nil
}

var _ fetcher.SpotPriceFetcher = (*staticFetcher)(nil)
