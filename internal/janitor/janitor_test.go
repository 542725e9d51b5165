package janitor

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCleaner struct {
	sweeps  atomic.Int64
	removed int64
}

func (f *fakeCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	f.sweeps.Add(1)
	return f.removed, nil
}

func TestJanitorSweepsOnStartAndTick(t *testing.T) {
	fc := &fakeCleaner{removed: 2}
	j := New(fc, 20*time.Millisecond, "")

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_ = j.Run(ctx)

	// One immediate sweep plus at least one tick.
	if got := fc.sweeps.Load(); got < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", got)
	}
}

func TestFileLockExcludes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "janitor.lock")

	a := NewFileLock(path)
	ok, err := a.TryLock()
	if err != nil || !ok {
		t.Fatalf("first lock should succeed: ok=%v err=%v", ok, err)
	}

	b := NewFileLock(path)
	ok, err = b.TryLock()
	if err != nil {
		t.Fatalf("second TryLock errored: %v", err)
	}
	if ok {
		t.Fatal("second lock should be refused while the first is held")
	}

	if err := a.Unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	ok, err = b.TryLock()
	if err != nil || !ok {
		t.Fatalf("lock should succeed after release: ok=%v err=%v", ok, err)
	}
	b.Unlock()
}

func TestLockedTickSkipsSweep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "janitor.lock")

	holder := NewFileLock(path)
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("holder lock failed: ok=%v err=%v", ok, err)
	}
	defer holder.Unlock()

	fc := &fakeCleaner{}
	j := New(fc, time.Hour, path)
	j.tick(context.Background())

	if got := fc.sweeps.Load(); got != 0 {
		t.Fatalf("tick under a foreign lock must not sweep, got %d sweeps", got)
	}
}
