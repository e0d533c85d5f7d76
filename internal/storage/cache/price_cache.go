// Package cache keeps the last ingested sample of each asset in Redis so the API can answer
// "latest price" without touching the time-series store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"price-tracker/internal/config"
	"price-tracker/internal/pricing"
)

const keyPrefix = "pricetracker:latest:"

// PriceCache stores each asset's latest sample as a hash with "price" and "ts" (unix nanos) fields.
type PriceCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg config.RedisConfig) (*PriceCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewWithClient(rdb, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb redis.UniversalClient, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: rdb, ttl: ttl}
}

// Close closes the underlying client.
func (c *PriceCache) Close() error {
	return c.rdb.Close()
}

func latestKey(asset string) string {
	return keyPrefix + asset
}

// SetLatest records a sample unless a newer one is already cached.
func (c *PriceCache) SetLatest(ctx context.Context, sample pricing.PriceSample) error {
	current, err := c.GetLatest(ctx, sample.Asset)
	if err == nil && current.Timestamp.After(sample.Timestamp) {
		return nil
	}
	if err != nil && !errors.Is(err, pricing.ErrNotFound) {
		return err
	}

	key := latestKey(sample.Asset)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": sample.Price.String(),
		"ts":    strconv.FormatInt(sample.Timestamp.UnixNano(), 10),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set latest %s: %w", sample.Asset, err)
	}
	return nil
}

// GetLatest returns the cached sample or pricing.ErrNotFound.
func (c *PriceCache) GetLatest(ctx context.Context, asset string) (pricing.PriceSample, error) {
	vals, err := c.rdb.HGetAll(ctx, latestKey(asset)).Result()
	if err != nil {
		return pricing.PriceSample{}, fmt.Errorf("redis: get latest %s: %w", asset, err)
	}
	return decodeLatest(asset, vals)
}

func decodeLatest(asset string, vals map[string]string) (pricing.PriceSample, error) {
	priceStr, okPrice := vals["price"]
	tsStr, okTS := vals["ts"]
	if !okPrice || !okTS {
		return pricing.PriceSample{}, pricing.ErrNotFound
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return pricing.PriceSample{}, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return pricing.PriceSample{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
	}

	return pricing.PriceSample{Asset: asset, Price: price, Timestamp: time.Unix(0, tsNano).UTC()}, nil
}
