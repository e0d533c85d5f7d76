package storage

import (
	"context"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

type memoryEntry struct {
	sample pricing.PriceSample
	seq    uint64
}

// MemoryStore keeps per-asset samples ordered by (timestamp, insertion sequence).
// A non-positive capacity keeps everything.
type MemoryStore struct {
	mu       sync.RWMutex
	series   map[string][]memoryEntry
	seq      uint64
	capacity int
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		series:   make(map[string][]memoryEntry),
		capacity: capacity,
	}
}

// Append inserts the sample at its timestamp position; equal timestamps keep write order.
func (s *MemoryStore) Append(ctx context.Context, asset string, price decimal.Decimal, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return storeErr("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry := memoryEntry{
		sample: pricing.PriceSample{Asset: asset, Price: price, Timestamp: ts.UTC()},
		seq:    s.seq,
	}

	entries := s.series[asset]
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].sample.Timestamp.After(entry.sample.Timestamp)
	})
	entries = slices.Insert(entries, idx, entry)

	if s.capacity > 0 && len(entries) > s.capacity {
		entries = slices.Clone(entries[len(entries)-s.capacity:])
	}
	s.series[asset] = entries
	return nil
}

// FindNearestAtOrBefore returns the newest sample with timestamp <= target.
func (s *MemoryStore) FindNearestAtOrBefore(ctx context.Context, asset string, target time.Time) (pricing.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return pricing.PriceSample{}, storeErr("find nearest", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.series[asset]
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].sample.Timestamp.After(target)
	})
	if idx == 0 {
		return pricing.PriceSample{}, pricing.ErrNotFound
	}
	return entries[idx-1].sample, nil
}

// RangeDescending snapshots the matching tail when iteration starts and yields it newest first.
func (s *MemoryStore) RangeDescending(ctx context.Context, asset string, since time.Time) iter.Seq2[pricing.PriceSample, error] {
	return func(yield func(pricing.PriceSample, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(pricing.PriceSample{}, storeErr("range descending", err))
			return
		}

		s.mu.RLock()
		entries := s.series[asset]
		idx := sort.Search(len(entries), func(i int) bool {
			return !entries[i].sample.Timestamp.Before(since)
		})
		snapshot := slices.Clone(entries[idx:])
		s.mu.RUnlock()

		for i := len(snapshot) - 1; i >= 0; i-- {
			if !yield(snapshot[i].sample, nil) {
				return
			}
		}
	}
}

// ListRecent returns up to limit samples, newest first.
func (s *MemoryStore) ListRecent(ctx context.Context, asset string, limit int) ([]pricing.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("list recent", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.series[asset]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	result := make([]pricing.PriceSample, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i].sample)
	}
	return result, nil
}

// ListBetween returns samples within [from, to) in ascending order.
func (s *MemoryStore) ListBetween(ctx context.Context, asset string, from, to time.Time) ([]pricing.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("list between", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]pricing.PriceSample, 0)
	for _, entry := range s.series[asset] {
		ts := entry.sample.Timestamp
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		result = append(result, entry.sample)
	}
	return result, nil
}

var _ Repository = (*MemoryStore)(nil)
