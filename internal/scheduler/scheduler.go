// Package scheduler drives the recurring ingestion cycle.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc is invoked once per tick with the cycle's nominal start time.
type CycleFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval      time.Duration
	AlignToBucket bool
	StartupDelay  time.Duration
	RunOnStart    bool
}

// Scheduler runs a cycle at a fixed interval until its context is cancelled.
// Cycles never overlap: a slow cycle pushes the next one to the following boundary.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Interval returns the configured cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks until ctx is cancelled. Cycle errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, cycle, time.Now().UTC())
	}

	next := s.nextTick(time.Now().UTC())
	for {
		if delay := time.Until(next); delay < 0 {
			skipped := next
			next = s.nextTick(time.Now().UTC())
			s.logger.Warn().Time("missed", skipped).Time("next", next).Msg("cycle overran interval, skipping to next boundary")
		}

		s.logger.Debug().Time("next_cycle", next).Msg("waiting for next cycle")
		if err := sleep(ctx, time.Until(next)); err != nil {
			s.logger.Info().Msg("scheduler stopped")
			return err
		}

		s.execute(ctx, cycle, s.cycleStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, cycle CycleFunc, at time.Time) {
	started := time.Now()
	s.logger.Info().Time("at", at).Msg("executing scheduled cycle")
	if err := cycle(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("cycle execution failed")
		return
	}
	s.logger.Debug().Time("at", at).Dur("elapsed", time.Since(started)).Msg("cycle finished")
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) cycleStart(t time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
