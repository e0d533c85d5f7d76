package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndLegacyEnv(t *testing.T) {
	t.Setenv("MORALIS_API_KEY", "moralis-key")
	t.Setenv("EMAIL_USER", "tracker@example.com")
	t.Setenv("EMAIL_PASS", "app-password")

	path := writeConfig(t, `
assets: [" Ethereum ", "polygon", "POLYGON", ""]
scheduler:
  interval: 1m
  workers: 2
detector:
  lookback: 30m
  threshold_pct: 2.5
alerting:
  channels: ["Email", "telegram"]
  telegram:
    bot_token: token
    chat_id: "42"
feed:
  chainlink:
    feeds:
      ETHEREUM: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ethereum", "polygon"}, cfg.Assets)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.FetchTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Detector.Lookback)
	assert.InDelta(t, 2.5, cfg.Detector.ThresholdPct, 1e-9)
	assert.Equal(t, []string{ChannelEmail, ChannelTelegram}, cfg.Alerting.Channels)
	assert.Equal(t, "moralis-key", cfg.Feed.Moralis.APIKey)
	assert.Equal(t, "tracker@example.com", cfg.Alerting.Email.Username)
	assert.Equal(t, "app-password", cfg.Alerting.Email.Password)
	assert.Equal(t, "tracker@example.com", cfg.Alerting.Email.SenderAddress())
	assert.Contains(t, cfg.Feed.Chainlink.Feeds, "ethereum")
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.InDelta(t, 0.0003, cfg.Swap.FeeRate, 1e-12)
}

func TestLoadPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("MORALIS_API_KEY", "")
	t.Setenv("PRICETRACKER_FEED_PROVIDER", "coingecko")
	t.Setenv("PRICETRACKER_ALERTING_ENABLED", "false")
	t.Setenv("PRICETRACKER_SERVER_ADDR", ":8080")

	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderCoinGecko, cfg.Feed.Provider)
	assert.False(t, cfg.Alerting.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadRequiresMoralisKey(t *testing.T) {
	t.Setenv("MORALIS_API_KEY", "")
	t.Setenv("PRICETRACKER_FEED_MORALIS_API_KEY", "")
	t.Setenv("PRICETRACKER_ALERTING_ENABLED", "false")

	_, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed.moralis.api_key")
}

func validConfig() Config {
	return Config{
		Assets:    []string{"ethereum"},
		Database:  DatabaseConfig{Driver: DriverMemory},
		Scheduler: SchedulerConfig{Interval: 5 * time.Minute, Workers: 1, FetchTimeout: time.Second},
		Feed:      FeedConfig{Provider: ProviderCoinGecko},
		Detector:  DetectorConfig{Lookback: time.Hour, ThresholdPct: 3},
		Alerting: AlertingConfig{
			Enabled:   true,
			Recipient: "ops@example.com",
			Channels:  []string{ChannelKafka},
			Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "price-alerts"},
		},
		Swap:   SwapConfig{SourceAsset: "ethereum", TargetAsset: "bitcoin", FeeRate: 0.0003, Provider: ProviderCoinGecko},
		Export: ExportConfig{MaxDataPoints: 10},
	}
}

func TestValidate(t *testing.T) {
	base := validConfig()
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"no assets":          func(c *Config) { c.Assets = nil },
		"zero interval":      func(c *Config) { c.Scheduler.Interval = 0 },
		"zero workers":       func(c *Config) { c.Scheduler.Workers = 0 },
		"negative threshold": func(c *Config) { c.Detector.ThresholdPct = -1 },
		"sqlite without dsn": func(c *Config) { c.Database.Driver = DriverSQLite },
		"unknown driver":     func(c *Config) { c.Database.Driver = "mysql" },
		"unknown provider":   func(c *Config) { c.Feed.Provider = "binance" },
		"chainlink no feeds": func(c *Config) { c.Feed.Provider = ProviderChainlink; c.Feed.Chainlink.RPCURL = "http://node" },
		"same swap assets":   func(c *Config) { c.Swap.TargetAsset = "ethereum" },
		"fee rate too large": func(c *Config) { c.Swap.FeeRate = 1 },
		"no recipient":       func(c *Config) { c.Alerting.Recipient = "" },
		"kafka without topic": func(c *Config) {
			c.Alerting.Kafka.Topic = ""
		},
		"telegram without chat": func(c *Config) {
			c.Alerting.Channels = []string{ChannelTelegram}
			c.Alerting.Telegram.BotToken = "token"
		},
		"email without sender": func(c *Config) {
			c.Alerting.Channels = []string{ChannelEmail}
			c.Alerting.Email = EmailConfig{Host: "smtp.example.com", Port: 587}
		},
		"unknown channel": func(c *Config) { c.Alerting.Channels = []string{"sms"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	disabled := validConfig()
	disabled.Alerting = AlertingConfig{Enabled: false}
	assert.NoError(t, disabled.Validate())
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 10, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 3, cfg.ResolveMaxPoints(3))
}
