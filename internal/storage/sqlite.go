package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"price-tracker/internal/pricing"
)

type sampleRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Asset     string    `gorm:"not null;index:idx_price_samples_asset_ts,priority:1"`
	Price     string    `gorm:"not null"`
	SampledAt time.Time `gorm:"not null;index:idx_price_samples_asset_ts,priority:2"`
	CreatedAt time.Time
}

func (sampleRecord) TableName() string {
	return "price_samples"
}

func (r sampleRecord) toSample() (pricing.PriceSample, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return pricing.PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	return pricing.PriceSample{Asset: r.Asset, Price: price, Timestamp: r.SampledAt.UTC()}, nil
}

// SQLiteStore is a gorm-backed single-file backend for local runs.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database file and migrates the samples table.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// sqlite serialises writers; a single connection avoids SQLITE_BUSY under concurrent appends
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&sampleRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append inserts a sample.
func (s *SQLiteStore) Append(ctx context.Context, asset string, price decimal.Decimal, ts time.Time) error {
	rec := sampleRecord{Asset: asset, Price: price.String(), SampledAt: ts.UTC()}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return storeErr("append", err)
	}
	return nil
}

// FindNearestAtOrBefore returns the newest sample with timestamp <= target.
func (s *SQLiteStore) FindNearestAtOrBefore(ctx context.Context, asset string, target time.Time) (pricing.PriceSample, error) {
	var rec sampleRecord
	err := s.db.WithContext(ctx).
		Where("asset = ? AND sampled_at <= ?", asset, target.UTC()).
		Order("sampled_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pricing.PriceSample{}, pricing.ErrNotFound
	}
	if err != nil {
		return pricing.PriceSample{}, storeErr("find nearest", err)
	}
	return rec.toSample()
}

// RangeDescending streams rows from a cursor, newest first.
func (s *SQLiteStore) RangeDescending(ctx context.Context, asset string, since time.Time) iter.Seq2[pricing.PriceSample, error] {
	return func(yield func(pricing.PriceSample, error) bool) {
		rows, err := s.db.WithContext(ctx).
			Model(&sampleRecord{}).
			Where("asset = ? AND sampled_at >= ?", asset, since.UTC()).
			Order("sampled_at DESC, id DESC").
			Rows()
		if err != nil {
			yield(pricing.PriceSample{}, storeErr("range descending", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec sampleRecord
			if err := s.db.ScanRows(rows, &rec); err != nil {
				yield(pricing.PriceSample{}, storeErr("range descending", err))
				return
			}
			sample, err := rec.toSample()
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

// ListRecent returns up to limit samples, newest first.
func (s *SQLiteStore) ListRecent(ctx context.Context, asset string, limit int) ([]pricing.PriceSample, error) {
	var recs []sampleRecord
	query := s.db.WithContext(ctx).Where("asset = ?", asset).Order("sampled_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, storeErr("list recent", err)
	}
	return toSamples(recs)
}

// ListBetween returns samples within [from, to) in ascending order.
func (s *SQLiteStore) ListBetween(ctx context.Context, asset string, from, to time.Time) ([]pricing.PriceSample, error) {
	var recs []sampleRecord
	err := s.db.WithContext(ctx).
		Where("asset = ? AND sampled_at >= ? AND sampled_at < ?", asset, from.UTC(), to.UTC()).
		Order("sampled_at, id").
		Find(&recs).Error
	if err != nil {
		return nil, storeErr("list between", err)
	}
	return toSamples(recs)
}

func toSamples(recs []sampleRecord) ([]pricing.PriceSample, error) {
	samples := make([]pricing.PriceSample, 0, len(recs))
	for _, rec := range recs {
		sample, err := rec.toSample()
		if err != nil {
			return nil, storeErr("decode", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

var _ Repository = (*SQLiteStore)(nil)
