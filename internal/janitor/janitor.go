// Package janitor runs periodic expiry cleanup over the dedup store. A
// file lock keeps multiple processes sharing a database from cleaning
// concurrently.
package janitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/keelcore/keelcore/internal/dedup"
)

// Cleaner is what the janitor sweeps. Satisfied by *dedup.Store.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

var _ Cleaner = (*dedup.Store)(nil)

// Janitor manages the cleanup tick loop.
type Janitor struct {
	store    Cleaner
	interval atomic.Int64
	lock     *FileLock
}

// New creates a Janitor. lockPath may be empty to skip cross-process
// locking; interval <= 0 defaults to 15 minutes.
func New(store Cleaner, interval time.Duration, lockPath string) *Janitor {
	j := &Janitor{store: store}
	j.SetInterval(interval)
	if lockPath != "" {
		j.lock = NewFileLock(lockPath)
	}
	return j
}

// SetInterval changes the sweep interval. Takes effect after the current
// wait; safe to call from a config-reload callback while Run is blocked.
func (j *Janitor) SetInterval(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	j.interval.Store(int64(interval))
}

// Run starts the cleanup tick loop. Blocks until context is cancelled.
// The first sweep runs immediately.
func (j *Janitor) Run(ctx context.Context) error {
	slog.Info("Janitor started", "interval", time.Duration(j.interval.Load()))
	timer := time.NewTimer(time.Duration(j.interval.Load()))
	defer timer.Stop()

	j.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Janitor stopped")
			return ctx.Err()
		case <-timer.C:
			j.tick(ctx)
			timer.Reset(time.Duration(j.interval.Load()))
		}
	}
}

// tick acquires the cross-process lock, then sweeps expired entries.
func (j *Janitor) tick(ctx context.Context) {
	if j.lock != nil {
		acquired, err := j.lock.TryLock()
		if err != nil {
			slog.Warn("Janitor lock error", "error", err)
			return
		}
		if !acquired {
			slog.Debug("Janitor tick skipped: lock held by another process")
			return
		}
		defer j.lock.Unlock()
	}

	n, err := j.store.CleanupExpired(ctx)
	if err != nil {
		slog.Error("Janitor cleanup failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Janitor swept expired entries", "count", n)
	}
}
