package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const coinGeckoProvider = "coingecko"

// CoinGeckoOptions parameterise the CoinGecko simple price client.
type CoinGeckoOptions struct {
	BaseURL    string
	APIKey     string
	VsCurrency string
	Timeout    time.Duration
}

// CoinGecko fetches spot prices from /simple/price.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a CoinGecko client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSpotPrice prices a single asset.
func (c *CoinGecko) FetchSpotPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	prices, err := c.FetchSpotPrices(ctx, []string{asset})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return prices[asset], nil
}

// FetchSpotPrices prices several assets in one request. Every requested asset must be present.
func (c *CoinGecko) FetchSpotPrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	if len(assets) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	for _, asset := range assets {
		if asset == "" {
			return nil, feedUnavailable(coinGeckoProvider, errMissingAsset)
		}
	}

	query := url.Values{}
	query.Set("ids", strings.Join(assets, ","))
	query.Set("vs_currencies", c.opts.VsCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return nil, feedUnavailable(coinGeckoProvider, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, feedUnavailable(coinGeckoProvider, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, feedUnavailable(coinGeckoProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(coinGeckoProvider, resp.StatusCode, payload)
	}

	var body map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, invalidResponse(coinGeckoProvider, "decode body: %v", err)
	}

	prices := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		quote, ok := body[asset][c.opts.VsCurrency]
		if !ok {
			return nil, invalidResponse(coinGeckoProvider, "%s.%s missing", asset, c.opts.VsCurrency)
		}
		price, err := requirePositive(coinGeckoProvider, asset, quote)
		if err != nil {
			return nil, err
		}
		prices[asset] = price
	}

	c.logger.Debug().Strs("assets", assets).Msg("spot prices fetched")
	return prices, nil
}

var (
	_ SpotPriceFetcher = (*CoinGecko)(nil)
	_ BatchFetcher     = (*CoinGecko)(nil)
)
