package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		QueueSize:       8,
		AdmitTimeout:    100 * time.Millisecond,
		HandlerTimeout:  time.Second,
		DeadLetterLimit: 16,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishAssignsTraceAndTimestamp(t *testing.T) {
	b := NewEventBus(testConfig())
	ev := &Event{Type: "report.generated", Source: "test"}
	if !b.Publish(context.Background(), ev) {
		t.Fatal("publish should succeed on empty queue")
	}
	if ev.TraceID == "" {
		t.Fatal("expected a generated trace id")
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected a timestamp")
	}
	if got := b.Stats().QueueDepth; got != 1 {
		t.Fatalf("expected queue depth 1, got %d", got)
	}
}

func TestBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 3
	b := NewEventBus(cfg)

	// Handler that never returns within the test window.
	block := make(chan struct{})
	defer close(block)
	b.Subscribe("tick", "stuck", func(ctx context.Context, ev *Event) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	accepted := 0
	for i := 0; i < 4; i++ {
		if b.Publish(context.Background(), &Event{Type: "tick"}) {
			accepted++
		}
	}
	if accepted != 3 {
		t.Fatalf("expected 3 accepted publishes, got %d", accepted)
	}
	if got := b.Stats().QueueOverflowCount; got != 1 {
		t.Fatalf("expected queue_overflow_count 1, got %d", got)
	}
}

func TestDeadLetterIsolation(t *testing.T) {
	b := NewEventBus(testConfig())

	var okRuns atomic.Int64
	b.Subscribe("alert", "failing", func(ctx context.Context, ev *Event) error {
		return errors.New("boom")
	})
	b.Subscribe("alert", "succeeding", func(ctx context.Context, ev *Event) error {
		okRuns.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	if !b.Publish(context.Background(), &Event{Type: "alert", TraceID: "t-1"}) {
		t.Fatal("publish failed")
	}

	waitFor(t, 2*time.Second, func() bool { return b.Stats().Processed == 1 })

	if okRuns.Load() != 1 {
		t.Fatalf("succeeding handler should have run once, ran %d times", okRuns.Load())
	}
	letters := b.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("expected exactly 1 dead letter, got %d", len(letters))
	}
	if letters[0].Handler != "failing" {
		t.Fatalf("dead letter should name the failing handler, got %q", letters[0].Handler)
	}
	if letters[0].Event.TraceID != "t-1" {
		t.Fatalf("dead letter should carry the event, got trace %q", letters[0].Event.TraceID)
	}
	if got := b.Stats().Failed; got != 1 {
		t.Fatalf("expected failed count 1, got %d", got)
	}
}

func TestHandlerTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HandlerTimeout = 50 * time.Millisecond
	b := NewEventBus(cfg)

	release := make(chan struct{})
	defer close(release)
	// Ignores cancellation on purpose so the bus has to abandon it.
	b.Subscribe("slow", "sleeper", func(ctx context.Context, ev *Event) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(context.Background(), &Event{Type: "slow"})

	waitFor(t, 2*time.Second, func() bool { return b.Stats().DeadLetterCount == 1 })
	letters := b.DeadLetters()
	if len(letters) != 1 || letters[0].Handler != "sleeper" {
		t.Fatalf("expected one timeout dead letter for sleeper, got %+v", letters)
	}
}

func TestPriorityOrdering(t *testing.T) {
	b := NewEventBus(testConfig())

	var mu sync.Mutex
	var order []string
	b.Subscribe("job", "recorder", func(ctx context.Context, ev *Event) error {
		mu.Lock()
		order = append(order, ev.Source)
		mu.Unlock()
		return nil
	})

	// Enqueue before starting the loop so priority ordering is observable.
	b.Publish(context.Background(), &Event{Type: "job", Source: "low-1", Priority: 1})
	b.Publish(context.Background(), &Event{Type: "job", Source: "high", Priority: 9})
	b.Publish(context.Background(), &Event{Type: "job", Source: "low-2", Priority: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return b.Stats().Processed == 3 })

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "high" {
		t.Fatalf("highest priority should dispatch first, got order %v", order)
	}
	if order[1] != "low-1" || order[2] != "low-2" {
		t.Fatalf("equal priorities should stay FIFO, got order %v", order)
	}
}

func TestZeroHandlersDropped(t *testing.T) {
	b := NewEventBus(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	if !b.Publish(context.Background(), &Event{Type: "nobody.cares"}) {
		t.Fatal("publish failed")
	}
	waitFor(t, 2*time.Second, func() bool { return b.Stats().Processed == 1 })

	s := b.Stats()
	if s.Failed != 0 || s.DeadLetterCount != 0 {
		t.Fatalf("zero-handler events are not failures: %+v", s)
	}
}

func TestDrainDeadLetters(t *testing.T) {
	b := NewEventBus(testConfig())
	b.Subscribe("x", "bad", func(ctx context.Context, ev *Event) error {
		return errors.New("nope")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(context.Background(), &Event{Type: "x"})
	waitFor(t, 2*time.Second, func() bool { return b.Stats().DeadLetterCount == 1 })

	if got := len(b.DrainDeadLetters()); got != 1 {
		t.Fatalf("expected to drain 1 record, got %d", got)
	}
	if got := len(b.DeadLetters()); got != 0 {
		t.Fatalf("buffer should be empty after drain, got %d", got)
	}
	if got := b.Stats().DeadLetterCount; got != 1 {
		t.Fatalf("total counter should survive a drain, got %d", got)
	}
}

func TestDeadLetterRingBounded(t *testing.T) {
	r := newDeadLetterRing(3)
	for i := 0; i < 5; i++ {
		r.append(DeadLetter{Handler: string(rune('a' + i))})
	}
	buf := r.snapshot()
	if len(buf) != 3 {
		t.Fatalf("ring should cap at 3, got %d", len(buf))
	}
	if buf[0].Handler != "c" || buf[2].Handler != "e" {
		t.Fatalf("ring should keep the newest records, got %+v", buf)
	}
	if r.count() != 5 {
		t.Fatalf("total should count every append, got %d", r.count())
	}
}
