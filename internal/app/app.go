package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"price-tracker/internal/alerting"
	"price-tracker/internal/config"
	"price-tracker/internal/converter"
	"price-tracker/internal/detector"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/logging"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/server"
	"price-tracker/internal/service"
	"price-tracker/internal/storage"
	"price-tracker/internal/storage/cache"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// closers runs cleanup functions in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) {
	if fn != nil {
		*c = append(*c, fn)
	}
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func (a *App) newFeed(provider string) (fetcher.SpotPriceFetcher, func(), error) {
	feed := a.Config.Feed
	switch provider {
	case config.ProviderMoralis:
		return fetcher.NewMoralis(fetcher.MoralisOptions{
			BaseURL: feed.Moralis.BaseURL,
			APIKey:  feed.Moralis.APIKey,
			Timeout: feed.Moralis.RequestTimeout,
		}, a.Logger), nil, nil
	case config.ProviderCoinGecko:
		return fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
			BaseURL:    feed.CoinGecko.BaseURL,
			APIKey:     feed.CoinGecko.APIKey,
			VsCurrency: feed.CoinGecko.VsCurrency,
			Timeout:    feed.CoinGecko.RequestTimeout,
		}, a.Logger), nil, nil
	case config.ProviderChainlink:
		client := fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  feed.Chainlink.RPCURL,
			Feeds:   feed.Chainlink.Feeds,
			Timeout: feed.Chainlink.RequestTimeout,
		}, a.Logger)
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported feed provider %q", provider)
	}
}

func (a *App) newChannel() (alerting.Channel, func(), error) {
	cfg := a.Config.Alerting
	var (
		channels []alerting.Channel
		cleanup  closers
	)
	for _, name := range cfg.Channels {
		switch name {
		case config.ChannelEmail:
			ch, err := alerting.NewEmailChannel(cfg.Email, a.Logger)
			if err != nil {
				cleanup.close()
				return nil, nil, err
			}
			channels = append(channels, ch)
		case config.ChannelTelegram:
			channels = append(channels, alerting.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger))
		case config.ChannelKafka:
			ch := alerting.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.Topic, a.Logger)
			cleanup.add(func() { _ = ch.Close() })
			channels = append(channels, ch)
		default:
			cleanup.close()
			return nil, nil, fmt.Errorf("unsupported alert channel %q", name)
		}
	}

	switch len(channels) {
	case 0:
		return nil, nil, nil
	case 1:
		return channels[0], cleanup.close, nil
	default:
		return alerting.NewMultiChannel(channels, a.Logger), cleanup.close, nil
	}
}

func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	store, closer, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.Driver == config.DriverMemory {
		a.Logger.Warn().Msg("database.driver=memory; samples are lost on exit")
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (service.LatestCache, func(), error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil, nil
	}
	c, err := cache.New(ctx, a.Config.Redis)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func (a *App) newConverter() (*converter.Converter, func(), error) {
	feed, closer, err := a.newFeed(a.Config.Swap.Provider)
	if err != nil {
		return nil, nil, err
	}
	conv := converter.New(feed, converter.Options{
		SourceAsset: a.Config.Swap.SourceAsset,
		TargetAsset: a.Config.Swap.TargetAsset,
		FeeRate:     decimal.NewFromFloat(a.Config.Swap.FeeRate),
	}, a.Logger)
	return conv, closer, nil
}

func (a *App) newDetector(store storage.TimeSeriesStore) *detector.Detector {
	return detector.New(store, detector.Options{
		Lookback:     a.Config.Detector.Lookback,
		ThresholdPct: decimal.NewFromFloat(a.Config.Detector.ThresholdPct),
		Recipient:    a.Config.Alerting.Recipient,
	}, a.Logger)
}

func (a *App) serviceOptions() service.Options {
	return service.Options{
		Assets:          a.Config.Assets,
		Workers:         a.Config.Scheduler.Workers,
		FetchTimeout:    a.Config.Scheduler.FetchTimeout,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
		AlertsEnabled:   a.Config.Alerting.Enabled,
	}
}

// buildService wires the full dependency graph. The returned closer releases every client.
func (a *App) buildService(ctx context.Context, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	var cleanup closers
	fail := func(err error) (*service.Service, func(), error) {
		cleanup.close()
		return nil, nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	cleanup.add(closeStore)

	latest, closeCache, err := a.openCache(ctx)
	if err != nil {
		return fail(err)
	}
	cleanup.add(closeCache)

	feed, closeFeed, err := a.newFeed(a.Config.Feed.Provider)
	if err != nil {
		return fail(err)
	}
	cleanup.add(closeFeed)

	conv, closeConv, err := a.newConverter()
	if err != nil {
		return fail(err)
	}
	cleanup.add(closeConv)

	channel, closeChannel, err := a.newChannel()
	if err != nil {
		return fail(err)
	}
	cleanup.add(closeChannel)

	var dispatcher *alerting.Dispatcher
	if channel != nil {
		dispatcher = alerting.NewDispatcher(channel, a.Logger)
	}

	svc := service.New(service.Deps{
		Scheduler:  sched,
		Feed:       feed,
		Store:      store,
		Cache:      latest,
		Detector:   a.newDetector(store),
		Dispatcher: dispatcher,
		Converter:  conv,
	}, a.serviceOptions(), a.Logger)

	return svc, cleanup.close, nil
}

// Run executes the ingestion loop and the HTTP API until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, closeAll, err := a.buildService(ctx, sched)
	if err != nil {
		return err
	}
	defer closeAll()

	api := server.New(a.Config.Server, svc, a.Logger)

	a.Logger.Info().
		Strs("assets", a.Config.Assets).
		Str("feed", a.Config.Feed.Provider).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting price tracker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := svc.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return api.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("price tracker terminated with error")
		return err
	}

	a.Logger.Info().Msg("price tracker stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset string
	Limit int
}
