package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

const (
	chainlinkProvider = "chainlink"

	aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain fetcher. Feeds maps asset -> aggregator address.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads USD spot prices from Chainlink aggregator contracts.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  map[common.Address]int32
	decMux    sync.Mutex
}

// NewChainlink builds a new on-chain fetcher. The RPC connection is dialled lazily and reused.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_fetcher").Logger(),
		decimals: make(map[common.Address]int32),
	}
}

// FetchSpotPrice reads latestRoundData().answer scaled by decimals().
func (c *Chainlink) FetchSpotPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if c.opts.RPCURL == "" {
		return decimal.Decimal{}, feedUnavailable(chainlinkProvider, errors.New("ethereum rpc url not configured"))
	}
	feed, ok := c.opts.Feeds[asset]
	if !ok || !common.IsHexAddress(feed) {
		return decimal.Decimal{}, feedUnavailable(chainlinkProvider, fmt.Errorf("%w: no aggregator for %q", pricing.ErrUnknownAsset, asset))
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, feedUnavailable(chainlinkProvider, err)
	}

	addr := common.HexToAddress(feed)
	scale, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return decimal.Decimal{}, err
	}

	outputs, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, invalidResponse(chainlinkProvider, "unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, invalidResponse(chainlinkProvider, "failed to decode latestRoundData answer")
	}

	price := decimal.NewFromBigInt(answer, -scale)
	c.logger.Debug().Str("asset", asset).Str("feed", addr.Hex()).Str("price", price.String()).Msg("spot price fetched")
	return requirePositive(chainlinkProvider, asset, price)
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	c.decMux.Lock()
	scale, ok := c.decimals[addr]
	c.decMux.Unlock()
	if ok {
		return scale, nil
	}

	outputs, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, invalidResponse(chainlinkProvider, "unexpected decimals response")
	}
	raw, ok := outputs[0].(uint8)
	if !ok {
		return 0, invalidResponse(chainlinkProvider, "failed to decode decimals output")
	}

	c.decMux.Lock()
	c.decimals[addr] = int32(raw)
	c.decMux.Unlock()
	return int32(raw), nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, feedUnavailable(chainlinkProvider, fmt.Errorf("call %s: %w", method, err))
	}

	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, invalidResponse(chainlinkProvider, "unpack %s: %v", method, err)
	}
	return outputs, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Close drops the RPC connection.
func (c *Chainlink) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

var _ SpotPriceFetcher = (*Chainlink)(nil)
