package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"price-tracker/internal/logging"
)

// Supported backends and providers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	ProviderMoralis   = "moralis"
	ProviderCoinGecko = "coingecko"
	ProviderChainlink = "chainlink"

	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelKafka    = "kafka"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Assets    []string        `mapstructure:"assets"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Swap      SwapConfig      `mapstructure:"swap"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the time-series backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MemoryCapacity  int           `mapstructure:"memory_capacity"`
}

// RedisConfig enables the latest-price cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SchedulerConfig governs the ingestion cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	Workers         int           `mapstructure:"workers"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// FeedConfig selects the spot price provider used for ingestion.
type FeedConfig struct {
	Provider  string          `mapstructure:"provider"`
	Moralis   MoralisConfig   `mapstructure:"moralis"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// MoralisConfig covers the Moralis price API.
type MoralisConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CoinGeckoConfig covers the CoinGecko simple price API.
type CoinGeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	VsCurrency     string        `mapstructure:"vs_currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainlinkConfig maps assets to on-chain aggregator contracts.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// DetectorConfig sets the change detector window and threshold.
type DetectorConfig struct {
	Lookback     time.Duration `mapstructure:"lookback"`
	ThresholdPct float64       `mapstructure:"threshold_pct"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Recipient string         `mapstructure:"recipient"`
	Channels  []string       `mapstructure:"channels"`
	Email     EmailConfig    `mapstructure:"email"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
	Kafka     KafkaConfig    `mapstructure:"kafka"`
}

// EmailConfig holds SMTP credentials.
type EmailConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	FromName string        `mapstructure:"from_name"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelegramConfig describes the Telegram mirror channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// KafkaConfig describes the Kafka notification topic.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SwapConfig fixes the conversion pair and fee model.
type SwapConfig struct {
	SourceAsset string  `mapstructure:"source_asset"`
	TargetAsset string  `mapstructure:"target_asset"`
	FeeRate     float64 `mapstructure:"fee_rate"`
	Provider    string  `mapstructure:"provider"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from a .env file, the config file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PRICETRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the variable names used by existing deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.dsn":                {"PRICETRACKER_DATABASE_DSN", "DATABASE_URL"},
		"feed.moralis.api_key":        {"PRICETRACKER_FEED_MORALIS_API_KEY", "MORALIS_API_KEY"},
		"alerting.email.username":     {"PRICETRACKER_ALERTING_EMAIL_USERNAME", "EMAIL_USER"},
		"alerting.email.password":     {"PRICETRACKER_ALERTING_EMAIL_PASSWORD", "EMAIL_PASS"},
		"alerting.telegram.bot_token": {"PRICETRACKER_ALERTING_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricetracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.memory_capacity", 2016)

	v.SetDefault("redis.ttl", "15m")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.fetch_timeout", "15s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))

	v.SetDefault("assets", []string{"ethereum", "polygon"})

	v.SetDefault("feed.provider", ProviderMoralis)
	v.SetDefault("feed.moralis.base_url", "https://api.moralis.io/v2")
	v.SetDefault("feed.moralis.request_timeout", "10s")
	v.SetDefault("feed.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("feed.coingecko.vs_currency", "usd")
	v.SetDefault("feed.coingecko.request_timeout", "10s")
	v.SetDefault("feed.chainlink.request_timeout", "10s")

	v.SetDefault("detector.lookback", "1h")
	v.SetDefault("detector.threshold_pct", 3.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.recipient", "hyperhire_assignment@hyperhire.in")
	v.SetDefault("alerting.channels", []string{ChannelEmail})
	v.SetDefault("alerting.email.host", "smtp.gmail.com")
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.email.from_name", "Blockchain Price Tracker")
	v.SetDefault("alerting.email.timeout", "15s")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.kafka.topic", "price-alerts")

	v.SetDefault("swap.source_asset", "ethereum")
	v.SetDefault("swap.target_asset", "bitcoin")
	v.SetDefault("swap.fee_rate", 0.0003)
	v.SetDefault("swap.provider", ProviderCoinGecko)

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.mode", "release")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	c.Assets = lo.Uniq(lo.FilterMap(c.Assets, func(asset string, _ int) (string, bool) {
		asset = strings.ToLower(strings.TrimSpace(asset))
		return asset, asset != ""
	}))
	c.Alerting.Channels = lo.Uniq(lo.Map(c.Alerting.Channels, func(ch string, _ int) string {
		return strings.ToLower(strings.TrimSpace(ch))
	}))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Feed.Provider = strings.ToLower(strings.TrimSpace(c.Feed.Provider))
	c.Swap.Provider = strings.ToLower(strings.TrimSpace(c.Swap.Provider))
	c.Swap.SourceAsset = strings.ToLower(strings.TrimSpace(c.Swap.SourceAsset))
	c.Swap.TargetAsset = strings.ToLower(strings.TrimSpace(c.Swap.TargetAsset))
	if len(c.Feed.Chainlink.Feeds) > 0 {
		c.Feed.Chainlink.Feeds = lo.MapKeys(c.Feed.Chainlink.Feeds, func(_ string, asset string) string {
			return strings.ToLower(strings.TrimSpace(asset))
		})
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets must list at least one asset")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.Scheduler.FetchTimeout <= 0 {
		return fmt.Errorf("scheduler.fetch_timeout must be greater than zero")
	}
	if c.Detector.Lookback <= 0 {
		return fmt.Errorf("detector.lookback must be greater than zero")
	}
	if c.Detector.ThresholdPct < 0 {
		return fmt.Errorf("detector.threshold_pct cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if err := c.validateProvider("feed.provider", c.Feed.Provider); err != nil {
		return err
	}
	if err := c.validateProvider("swap.provider", c.Swap.Provider); err != nil {
		return err
	}

	if c.Swap.SourceAsset == "" || c.Swap.TargetAsset == "" {
		return fmt.Errorf("swap.source_asset and swap.target_asset must be set")
	}
	if c.Swap.SourceAsset == c.Swap.TargetAsset {
		return fmt.Errorf("swap.source_asset and swap.target_asset must differ")
	}
	if c.Swap.FeeRate < 0 || c.Swap.FeeRate >= 1 {
		return fmt.Errorf("swap.fee_rate must be within [0, 1)")
	}

	if c.Alerting.Enabled {
		if err := c.validateAlerting(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProvider(key, provider string) error {
	switch provider {
	case ProviderMoralis:
		if c.Feed.Moralis.APIKey == "" {
			return fmt.Errorf("%s=moralis requires feed.moralis.api_key", key)
		}
	case ProviderCoinGecko:
	case ProviderChainlink:
		if c.Feed.Chainlink.RPCURL == "" {
			return fmt.Errorf("%s=chainlink requires feed.chainlink.rpc_url", key)
		}
		if len(c.Feed.Chainlink.Feeds) == 0 {
			return fmt.Errorf("%s=chainlink requires feed.chainlink.feeds", key)
		}
	default:
		return fmt.Errorf("%s %q is not supported", key, provider)
	}
	return nil
}

func (c *Config) validateAlerting() error {
	if c.Alerting.Recipient == "" {
		return fmt.Errorf("alerting.recipient must be set when alerting is enabled")
	}
	if len(c.Alerting.Channels) == 0 {
		return fmt.Errorf("alerting.channels must list at least one channel")
	}
	for _, ch := range c.Alerting.Channels {
		switch ch {
		case ChannelEmail:
			if c.Alerting.Email.Host == "" || c.Alerting.Email.Port <= 0 {
				return fmt.Errorf("alerting.email.host and alerting.email.port are required")
			}
			if c.Alerting.Email.From == "" && c.Alerting.Email.Username == "" {
				return fmt.Errorf("alerting.email.from or alerting.email.username is required")
			}
		case ChannelTelegram:
			if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
				return fmt.Errorf("alerting.telegram.bot_token and alerting.telegram.chat_id are required")
			}
		case ChannelKafka:
			if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
				return fmt.Errorf("alerting.kafka.brokers and alerting.kafka.topic are required")
			}
		default:
			return fmt.Errorf("alerting channel %q is not supported", ch)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// SenderAddress returns the envelope sender for email alerts.
func (e EmailConfig) SenderAddress() string {
	if e.From != "" {
		return e.From
	}
	return e.Username
}
