package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS price_samples (
        id         BIGSERIAL PRIMARY KEY,
        asset      TEXT        NOT NULL,
        price      NUMERIC     NOT NULL,
        sampled_at TIMESTAMPTZ NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createIndexSQL = `CREATE INDEX IF NOT EXISTS price_samples_asset_sampled_at_idx
    ON price_samples (asset, sampled_at DESC, id DESC);`

	insertSampleSQL = `INSERT INTO price_samples (asset, price, sampled_at) VALUES ($1, $2, $3);`

	findNearestAtOrBeforeSQL = `SELECT asset, price::text, sampled_at
    FROM price_samples
    WHERE asset = $1
      AND sampled_at <= $2
    ORDER BY sampled_at DESC, id DESC
    LIMIT 1;`

	rangeDescendingSQL = `SELECT asset, price::text, sampled_at
    FROM price_samples
    WHERE asset = $1
      AND sampled_at >= $2
    ORDER BY sampled_at DESC, id DESC;`

	listRecentSQL = `SELECT asset, price::text, sampled_at
    FROM price_samples
    WHERE asset = $1
    ORDER BY sampled_at DESC, id DESC
    LIMIT $2;`

	listBetweenSQL = `SELECT asset, price::text, sampled_at
    FROM price_samples
    WHERE asset = $1
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at, id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL time-series backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the samples table and its lookback index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createTableSQL, createIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return storeErr("ensure schema", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Append inserts a sample.
func (s *Store) Append(ctx context.Context, asset string, price decimal.Decimal, ts time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return storeErr("append", err)
	}
	if _, err := pool.Exec(ctx, insertSampleSQL, asset, price.String(), ts.UTC()); err != nil {
		return storeErr("append", err)
	}
	return nil
}

// FindNearestAtOrBefore returns the newest sample at or before target.
func (s *Store) FindNearestAtOrBefore(ctx context.Context, asset string, target time.Time) (pricing.PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return pricing.PriceSample{}, storeErr("find nearest", err)
	}

	sample, err := scanSample(pool.QueryRow(ctx, findNearestAtOrBeforeSQL, asset, target.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return pricing.PriceSample{}, pricing.ErrNotFound
	}
	if err != nil {
		return pricing.PriceSample{}, storeErr("find nearest", err)
	}
	return sample, nil
}

// RangeDescending streams samples newer than since straight from the cursor.
func (s *Store) RangeDescending(ctx context.Context, asset string, since time.Time) iter.Seq2[pricing.PriceSample, error] {
	pool, err := s.getPool()
	if err != nil {
		return errorSeq(storeErr("range descending", err))
	}

	return func(yield func(pricing.PriceSample, error) bool) {
		rows, err := pool.Query(ctx, rangeDescendingSQL, asset, since.UTC())
		if err != nil {
			yield(pricing.PriceSample{}, storeErr("range descending", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			sample, err := scanSample(rows)
			if err != nil {
				yield(pricing.PriceSample{}, storeErr("range descending", err))
				return
			}
			if !yield(sample, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(pricing.PriceSample{}, storeErr("range descending", err))
		}
	}
}

// ListRecent lists the newest samples of an asset.
func (s *Store) ListRecent(ctx context.Context, asset string, limit int) ([]pricing.PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentSQL, asset, limit)
	if err != nil {
		return nil, storeErr("list recent", err)
	}
	return collectRows(rows, "list recent")
}

// ListBetween lists samples within [from, to) in ascending order.
func (s *Store) ListBetween(ctx context.Context, asset string, from, to time.Time) ([]pricing.PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listBetweenSQL, asset, from.UTC(), to.UTC())
	if err != nil {
		return nil, storeErr("list between", err)
	}
	return collectRows(rows, "list between")
}

func collectRows(rows pgx.Rows, op string) ([]pricing.PriceSample, error) {
	defer rows.Close()

	samples := make([]pricing.PriceSample, 0)
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return samples, nil
}

func scanSample(row pgx.Row) (pricing.PriceSample, error) {
	var (
		asset     string
		priceStr  string
		sampledAt time.Time
	)
	if err := row.Scan(&asset, &priceStr, &sampledAt); err != nil {
		return pricing.PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return pricing.PriceSample{}, fmt.Errorf("parse price: %w", err)
	}

	return pricing.PriceSample{Asset: asset, Price: price, Timestamp: sampledAt.UTC()}, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
