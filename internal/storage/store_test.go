package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker/internal/config"
	"price-tracker/internal/pricing"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Repository

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Repository {
			return NewMemoryStore(0)
		},
		"sqlite": func(t *testing.T) Repository {
			store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "prices.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func appendAt(t *testing.T, store Repository, asset string, price int64, offset time.Duration) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), asset, decimal.NewFromInt(price), base.Add(offset)))
}

func TestFindNearestAtOrBefore(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			_, err := store.FindNearestAtOrBefore(ctx, "ethereum", base)
			require.ErrorIs(t, err, pricing.ErrNotFound)

			appendAt(t, store, "ethereum", 1000, 0)
			appendAt(t, store, "ethereum", 1010, 10*time.Minute)
			appendAt(t, store, "ethereum", 1020, 20*time.Minute)

			got, err := store.FindNearestAtOrBefore(ctx, "ethereum", base.Add(15*time.Minute))
			require.NoError(t, err)
			assert.True(t, got.Price.Equal(decimal.NewFromInt(1010)))
			assert.True(t, got.Timestamp.Equal(base.Add(10*time.Minute)))

			got, err = store.FindNearestAtOrBefore(ctx, "ethereum", base.Add(20*time.Minute))
			require.NoError(t, err)
			assert.True(t, got.Price.Equal(decimal.NewFromInt(1020)), "exact timestamp is inclusive")

			_, err = store.FindNearestAtOrBefore(ctx, "ethereum", base.Add(-time.Second))
			require.ErrorIs(t, err, pricing.ErrNotFound)

			_, err = store.FindNearestAtOrBefore(ctx, "polygon", base.Add(time.Hour))
			require.ErrorIs(t, err, pricing.ErrNotFound)
		})
	}
}

func TestDuplicateTimestampMostRecentWriteWins(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			appendAt(t, store, "ethereum", 1000, 0)
			appendAt(t, store, "ethereum", 1001, 0)

			got, err := store.FindNearestAtOrBefore(context.Background(), "ethereum", base)
			require.NoError(t, err)
			assert.True(t, got.Price.Equal(decimal.NewFromInt(1001)))
		})
	}
}

func TestRangeDescendingOrderingAndIdempotence(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			// inserted out of timestamp order
			appendAt(t, store, "ethereum", 1020, 20*time.Minute)
			appendAt(t, store, "ethereum", 990, -10*time.Minute)
			appendAt(t, store, "ethereum", 1000, 0)
			appendAt(t, store, "ethereum", 1010, 10*time.Minute)
			appendAt(t, store, "polygon", 1, 5*time.Minute)

			first, err := Collect(store.RangeDescending(ctx, "ethereum", base))
			require.NoError(t, err)
			require.Len(t, first, 3)
			assert.True(t, first[0].Price.Equal(decimal.NewFromInt(1020)))
			assert.True(t, first[1].Price.Equal(decimal.NewFromInt(1010)))
			assert.True(t, first[2].Price.Equal(decimal.NewFromInt(1000)), "since is inclusive")

			second, err := Collect(store.RangeDescending(ctx, "ethereum", base))
			require.NoError(t, err)
			require.Len(t, second, len(first))
			for i := range first {
				assert.Equal(t, first[i].Asset, second[i].Asset)
				assert.True(t, first[i].Price.Equal(second[i].Price))
				assert.True(t, first[i].Timestamp.Equal(second[i].Timestamp))
			}

			empty, err := Collect(store.RangeDescending(ctx, "bitcoin", base))
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestRangeDescendingEarlyStop(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			for i := 0; i < 5; i++ {
				appendAt(t, store, "ethereum", int64(1000+i), time.Duration(i)*time.Minute)
			}

			seen := 0
			for sample, err := range store.RangeDescending(context.Background(), "ethereum", base) {
				require.NoError(t, err)
				seen++
				if sample.Price.Equal(decimal.NewFromInt(1003)) {
					break
				}
			}
			assert.Equal(t, 2, seen)
		})
	}
}

func TestConcurrentAppendsKeepSeriesIntact(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			const perAsset = 50

			var wg sync.WaitGroup
			for _, asset := range []string{"ethereum", "polygon"} {
				wg.Add(1)
				go func(asset string) {
					defer wg.Done()
					for i := 0; i < perAsset; i++ {
						err := store.Append(ctx, asset, decimal.NewFromInt(int64(i)), base.Add(time.Duration(i)*time.Second))
						assert.NoError(t, err)
					}
				}(asset)
			}
			wg.Wait()

			for _, asset := range []string{"ethereum", "polygon"} {
				samples, err := Collect(store.RangeDescending(ctx, asset, base))
				require.NoError(t, err)
				require.Len(t, samples, perAsset)
				for i, sample := range samples {
					assert.Equal(t, asset, sample.Asset)
					assert.True(t, sample.Price.Equal(decimal.NewFromInt(int64(perAsset-1-i))), fmt.Sprintf("%s[%d]", asset, i))
				}
			}
		})
	}
}

func TestListRecentAndBetween(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			for i := 0; i < 4; i++ {
				appendAt(t, store, "ethereum", int64(100+i), time.Duration(i)*time.Hour)
			}

			recent, err := store.ListRecent(ctx, "ethereum", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.True(t, recent[0].Price.Equal(decimal.NewFromInt(103)))

			between, err := store.ListBetween(ctx, "ethereum", base.Add(time.Hour), base.Add(3*time.Hour))
			require.NoError(t, err)
			require.Len(t, between, 2)
			assert.True(t, between[0].Price.Equal(decimal.NewFromInt(101)))
			assert.True(t, between[1].Price.Equal(decimal.NewFromInt(102)))
		})
	}
}

func TestMemoryStoreCapacity(t *testing.T) {
	store := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		appendAt(t, store, "ethereum", int64(i), time.Duration(i)*time.Minute)
	}

	samples, err := store.ListRecent(context.Background(), "ethereum", 0)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.True(t, samples[2].Price.Equal(decimal.NewFromInt(2)))
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMemoryStore(0).Append(ctx, "ethereum", decimal.NewFromInt(1), base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pricing.ErrStoreUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOpenMemoryDriver(t *testing.T) {
	repo, closer, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	defer closer()
	assert.IsType(t, &MemoryStore{}, repo)

	_, _, err = Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	require.Error(t, err)
}

func TestPostgresStoreNotConfigured(t *testing.T) {
	var store *Store
	err := store.Append(context.Background(), "ethereum", decimal.NewFromInt(1), base)
	require.ErrorIs(t, err, pricing.ErrStoreUnavailable)
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = Collect(store.RangeDescending(context.Background(), "ethereum", base))
	require.ErrorIs(t, err, ErrNotConfigured)
}
