package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

func TestCoinGeckoFetchSpotPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "ethereum,bitcoin" {
			t.Fatalf("ids 参数不正确: %s", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Fatalf("vs_currencies 参数不正确: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ethereum": map[string]any{"usd": 2000},
			"bitcoin":  map[string]any{"usd": 40000},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	prices, err := c.FetchSpotPrices(context.Background(), []string{"ethereum", "bitcoin"})
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !prices["ethereum"].Equal(decimal.NewFromInt(2000)) || !prices["bitcoin"].Equal(decimal.NewFromInt(40000)) {
		t.Fatalf("价格不正确: %v", prices)
	}
}

func TestCoinGeckoFetchMissingAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ethereum": map[string]any{"usd": 2000}})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := c.FetchSpotPrice(context.Background(), "bitcoin")
	if !errors.Is(err, pricing.ErrInvalidResponse) {
		t.Fatalf("缺少资产应返回 ErrInvalidResponse, 实际 %v", err)
	}
}

func TestCoinGeckoFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := c.FetchSpotPrice(context.Background(), "ethereum")
	if !errors.Is(err, pricing.ErrFeedUnavailable) {
		t.Fatalf("HTTP 429 应返回 ErrFeedUnavailable, 实际 %v", err)
	}
}
