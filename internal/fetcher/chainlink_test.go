package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

const testAggregator = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := c.FetchSpotPrice(context.Background(), "ethereum"); !errors.Is(err, pricing.ErrFeedUnavailable) {
		t.Fatal("未配置 RPC 时应报错")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := c.FetchSpotPrice(context.Background(), "ethereum"); !errors.Is(err, pricing.ErrUnknownAsset) {
		t.Fatal("缺少聚合合约地址应报错")
	}
}

func TestChainlinkFetchSpotPrice(t *testing.T) {
	var decimalsCalls atomic.Int32
	srv := newFakeRPC(t, big.NewInt(200_012_345_678), 8, &decimalsCalls)
	defer srv.Close()

	c := NewChainlink(ChainlinkOptions{
		RPCURL:  srv.URL,
		Feeds:   map[string]string{"ethereum": testAggregator},
		Timeout: time.Second,
	}, noopLogger())
	defer c.Close()

	for i := 0; i < 2; i++ {
		price, err := c.FetchSpotPrice(context.Background(), "ethereum")
		if err != nil {
			t.Fatalf("链上读取不应报错: %v", err)
		}
		if !price.Equal(decimal.RequireFromString("2000.12345678")) {
			t.Fatalf("期望价格 2000.12345678, 实际 %s", price.String())
		}
	}
	if decimalsCalls.Load() != 1 {
		t.Fatalf("decimals 应只查询一次, 实际 %d", decimalsCalls.Load())
	}
}

func TestChainlinkRejectsNonPositiveAnswer(t *testing.T) {
	srv := newFakeRPC(t, big.NewInt(-5), 8, nil)
	defer srv.Close()

	c := NewChainlink(ChainlinkOptions{RPCURL: srv.URL, Feeds: map[string]string{"ethereum": testAggregator}}, noopLogger())
	defer c.Close()

	if _, err := c.FetchSpotPrice(context.Background(), "ethereum"); !errors.Is(err, pricing.ErrInvalidResponse) {
		t.Fatalf("负数报价应返回 ErrInvalidResponse, 实际 %v", err)
	}
}

// newFakeRPC answers eth_call for decimals() and latestRoundData() on any address.
func newFakeRPC(t *testing.T, answer *big.Int, decimals uint8, decimalsCalls *atomic.Int32) *httptest.Server {
	t.Helper()

	decimalsOut, err := aggregatorABI.Methods["decimals"].Outputs.Pack(decimals)
	if err != nil {
		t.Fatalf("pack decimals: %v", err)
	}
	roundOut, err := aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(1), answer, big.NewInt(0), big.NewInt(0), big.NewInt(1),
	)
	if err != nil {
		t.Fatalf("pack latestRoundData: %v", err)
	}
	decimalsID := aggregatorABI.Methods["decimals"].ID

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "eth_call" || len(req.Params) == 0 {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}

		var call struct {
			Data  hexutil.Bytes `json:"data"`
			Input hexutil.Bytes `json:"input"`
		}
		_ = json.Unmarshal(req.Params[0], &call)
		data := call.Input
		if len(data) == 0 {
			data = call.Data
		}

		result := roundOut
		if bytes.HasPrefix(data, decimalsID) {
			result = decimalsOut
			if decimalsCalls != nil {
				decimalsCalls.Add(1)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  hexutil.Encode(result),
		})
	}))
}
