package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

// SpotPriceFetcher retrieves the current fiat spot price of an asset.
// Errors wrap pricing.ErrFeedUnavailable or pricing.ErrInvalidResponse. Implementations never retry.
type SpotPriceFetcher interface {
	FetchSpotPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// BatchFetcher is implemented by providers able to price several assets in one request.
type BatchFetcher interface {
	FetchSpotPrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}

func feedUnavailable(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", pricing.ErrFeedUnavailable, provider, err)
}

func invalidResponse(provider, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", pricing.ErrInvalidResponse, provider, fmt.Sprintf(format, args...))
}

// requirePositive rejects zero and negative quotes.
func requirePositive(provider, asset string, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Decimal{}, invalidResponse(provider, "non-positive price %s for %s", price.String(), asset)
	}
	return price, nil
}

type errorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func parseHTTPError(provider string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Message, apiErr.Description, apiErr.Error} {
			if msg != "" {
				return feedUnavailable(provider, fmt.Errorf("api error (%d): %s", status, msg))
			}
		}
	}
	if len(payload) > 0 {
		return feedUnavailable(provider, fmt.Errorf("api error (%d): %s", status, strings.TrimSpace(string(payload))))
	}
	return feedUnavailable(provider, fmt.Errorf("api error (%d)", status))
}

var errMissingAsset = errors.New("asset identifier is empty")
