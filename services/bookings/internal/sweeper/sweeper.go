// Package sweeper periodically expires holds that outlived their TTL.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/pawstay-bookings/pkg/clock"
	"github.com/diagnosis/pawstay-bookings/pkg/lock"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/pkg/telemetry"
)

const lockKey = "pawstay:sweeper:holds"

type holdSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Locker is satisfied by *lock.Locker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Sweeper struct {
	holds    holdSweeper
	locker   Locker
	clock    clock.Clock
	metrics  *telemetry.Metrics
	interval time.Duration
	lockTTL  time.Duration
}

// New builds a sweeper. A nil locker means every instance sweeps; the guarded
// hold transitions keep overlapping sweeps correct, the lock only saves work.
func New(holds holdSweeper, locker Locker, clk clock.Clock, metrics *telemetry.Metrics, interval, lockTTL time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	return &Sweeper{
		holds:    holds,
		locker:   locker,
		clock:    clk,
		metrics:  metrics,
		interval: interval,
		lockTTL:  lockTTL,
	}
}

// Start sweeps once immediately, then on every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "Sweeper started", "interval", s.interval)
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep and reports how many holds it expired.
func (s *Sweeper) tick(ctx context.Context) int {
	start := time.Now()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
		switch {
		case err != nil && !errors.Is(err, lock.ErrNotConfigured):
			logger.WarnContext(ctx, "Sweep lock unavailable, sweeping anyway", "error", err)
		case err == nil && !ok:
			logger.DebugContext(ctx, "Sweep skipped, another instance holds the lock")
			s.metrics.ObserveSweep("skipped", 0, time.Since(start))
			return 0
		case err == nil:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
					logger.WarnContext(ctx, "Failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	n, err := s.holds.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		logger.ErrorContext(ctx, "Failed to sweep expired holds", "error", err, "reclaimed", n)
		s.metrics.ObserveSweep("error", n, time.Since(start))
		return n
	}
	if n > 0 {
		logger.InfoContext(ctx, "Expired holds reclaimed", "count", n)
	}
	s.metrics.ObserveSweep("ok", n, time.Since(start))
	return n
}
