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

const moralisProvider = "moralis"

// MoralisOptions parameterise the Moralis price client.
type MoralisOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Moralis fetches spot prices from the Moralis price endpoint.
type Moralis struct {
	opts    MoralisOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMoralis constructs a Moralis client; the http.Client is reused across calls.
func NewMoralis(opts MoralisOptions, logger zerolog.Logger) *Moralis {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.moralis.io/v2"
	}

	return &Moralis{
		opts:    opts,
		logger:  logger.With().Str("component", "moralis_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type moralisPriceResponse struct {
	USDPrice *decimal.Decimal `json:"usdPrice"`
}

// FetchSpotPrice calls GET {base}/{asset}/price and returns usdPrice.
func (m *Moralis) FetchSpotPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if asset == "" {
		return decimal.Decimal{}, feedUnavailable(moralisProvider, errMissingAsset)
	}

	endpoint := m.baseURL + "/" + url.PathEscape(asset) + "/price"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, feedUnavailable(moralisProvider, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", m.opts.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, feedUnavailable(moralisProvider, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, feedUnavailable(moralisProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(moralisProvider, resp.StatusCode, payload)
	}

	var body moralisPriceResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, invalidResponse(moralisProvider, "decode body: %v", err)
	}
	if body.USDPrice == nil {
		return decimal.Decimal{}, invalidResponse(moralisProvider, "usdPrice missing for %s", asset)
	}

	m.logger.Debug().Str("asset", asset).Str("price", body.USDPrice.String()).Msg("spot price fetched")
	return requirePositive(moralisProvider, asset, *body.USDPrice)
}

var _ SpotPriceFetcher = (*Moralis)(nil)
