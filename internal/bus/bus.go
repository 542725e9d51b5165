// Package bus provides the in-process event bus that decouples producers
// from consumers: a bounded priority queue with admission timeout
// (backpressure), concurrent handler fan-out with per-handler deadlines,
// and dead-letter capture for failed handlers.
package bus

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/keelcore/keelcore/internal/metrics"
)

// Event is the unit of work flowing through the bus. Producers create one
// per Publish call; it is immutable afterwards.
type Event struct {
	Type           string            `json:"type"`
	TraceID        string            `json:"trace_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Source         string            `json:"source"`
	Payload        map[string]any    `json:"payload,omitempty"`
	CorrelationIDs map[string]string `json:"correlation_ids,omitempty"`
	Priority       int               `json:"priority"`
}

// HandlerFunc processes one event. It must return within the bus handler
// timeout; errors are recorded to the dead-letter queue and never abort
// sibling handlers or the dispatch loop.
type HandlerFunc func(ctx context.Context, ev *Event) error

type subscription struct {
	name string
	fn   HandlerFunc
}

// Config holds event bus settings.
type Config struct {
	QueueSize       int           `json:"queueSize" envconfig:"QUEUE_SIZE"`
	AdmitTimeout    time.Duration `json:"admitTimeout" envconfig:"ADMIT_TIMEOUT"`
	HandlerTimeout  time.Duration `json:"handlerTimeout" envconfig:"HANDLER_TIMEOUT"`
	DeadLetterLimit int           `json:"deadLetterLimit" envconfig:"DEAD_LETTER_LIMIT"`
}

// DefaultConfig returns sensible bus defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		AdmitTimeout:    2 * time.Second,
		HandlerTimeout:  30 * time.Second,
		DeadLetterLimit: 1000,
	}
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Published          int64 `json:"published"`
	Processed          int64 `json:"processed"`
	Failed             int64 `json:"failed"`
	QueueOverflowCount int64 `json:"queue_overflow_count"`
	QueueDepth         int   `json:"queue_depth"`
	DeadLetterCount    int64 `json:"dead_letter_count"`
}

// EventBus is the dispatch core. One instance per process, passed explicitly
// to producers and consumers.
type EventBus struct {
	cfg Config

	mu    sync.Mutex
	queue eventQueue
	seq   uint64

	// slots bounds admitted-but-unfinished events. A slot is held from
	// Publish until every handler of the event has finished, so capacity
	// covers in-flight work, not just the queue.
	slots chan struct{}
	wake  chan struct{}

	subMu sync.RWMutex
	subs  map[string][]subscription

	dead *deadLetterRing

	published atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	overflow  atomic.Int64
}

// NewEventBus creates an EventBus with the given config.
func NewEventBus(cfg Config) *EventBus {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.AdmitTimeout <= 0 {
		cfg.AdmitTimeout = def.AdmitTimeout
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if cfg.DeadLetterLimit <= 0 {
		cfg.DeadLetterLimit = def.DeadLetterLimit
	}
	return &EventBus{
		cfg:   cfg,
		slots: make(chan struct{}, cfg.QueueSize),
		wake:  make(chan struct{}, 1),
		subs:  make(map[string][]subscription),
		dead:  newDeadLetterRing(cfg.DeadLetterLimit),
	}
}

// Subscribe registers a named handler for an event type. Multiple handlers
// per type are allowed; they run concurrently and independently.
func (b *EventBus) Subscribe(eventType, name string, fn HandlerFunc) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscription{name: name, fn: fn})
}

// Publish attempts to enqueue the event, blocking at most the admission
// timeout. Returns false if the queue stayed at capacity (backpressure) or
// the caller's context was cancelled first. It never blocks on handler
// execution.
func (b *EventBus) Publish(ctx context.Context, ev *Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.TraceID == "" {
		ev.TraceID = uuid.NewString()
	}

	select {
	case b.slots <- struct{}{}:
	default:
		timer := time.NewTimer(b.cfg.AdmitTimeout)
		defer timer.Stop()
		select {
		case b.slots <- struct{}{}:
		case <-timer.C:
			b.overflow.Add(1)
			metrics.QueueOverflow.Inc()
			return false
		case <-ctx.Done():
			slog.Debug("Publish abandoned", "event_type", ev.Type, "trace_id", ev.TraceID, "error", ctx.Err())
			b.overflow.Add(1)
			metrics.QueueOverflow.Inc()
			return false
		}
	}

	b.mu.Lock()
	b.seq++
	heap.Push(&b.queue, &queuedEvent{ev: ev, seq: b.seq})
	depth := b.queue.Len()
	b.mu.Unlock()

	b.published.Add(1)
	metrics.EventsPublished.Inc()
	metrics.QueueDepth.Set(float64(depth))

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Run is the dispatch loop. It drains the priority queue (higher priority
// first, FIFO within a tier) and fans each event out to its handlers,
// waiting for all of them before the next dequeue. Handlers of one event
// run concurrently; a stalled handler delays the loop by at most the
// handler timeout. Blocks until the context is cancelled.
func (b *EventBus) Run(ctx context.Context) error {
	slog.Info("Event bus started", "queue_size", b.cfg.QueueSize, "handler_timeout", b.cfg.HandlerTimeout)
	for {
		b.mu.Lock()
		if b.queue.Len() == 0 {
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				slog.Info("Event bus stopped")
				return ctx.Err()
			case <-b.wake:
			}
			continue
		}
		item := heap.Pop(&b.queue).(*queuedEvent)
		metrics.QueueDepth.Set(float64(b.queue.Len()))
		b.mu.Unlock()

		ev := item.ev
		b.subMu.RLock()
		handlers := make([]subscription, len(b.subs[ev.Type]))
		copy(handlers, b.subs[ev.Type])
		b.subMu.RUnlock()

		if len(handlers) == 0 {
			slog.Debug("No handlers for event, dropping", "event_type", ev.Type, "trace_id", ev.TraceID)
			b.processed.Add(1)
			metrics.EventsProcessed.Inc()
			<-b.slots
			continue
		}

		b.dispatch(ctx, ev, handlers)
	}
}

// dispatch fans an event out to all its handlers concurrently and releases
// the event's queue slot once every handler has finished or timed out.
func (b *EventBus) dispatch(ctx context.Context, ev *Event, handlers []subscription) {
	defer func() { <-b.slots }()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h subscription) {
			defer wg.Done()
			b.invoke(ctx, ev, h)
		}(h)
	}
	wg.Wait()

	b.processed.Add(1)
	metrics.EventsProcessed.Inc()
}

// invoke runs one handler under its own deadline. The handler goroutine may
// outlive a timeout; handlers wanting prompt teardown must honor ctx.
func (b *EventBus) invoke(ctx context.Context, ev *Event, h subscription) {
	hctx, cancel := context.WithTimeout(ctx, b.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h.fn(hctx, ev)
	}()

	select {
	case err := <-done:
		metrics.HandlerDuration.Observe(float64(time.Since(start).Milliseconds()))
		if err == nil {
			return
		}
		b.failed.Add(1)
		metrics.HandlerFailures.WithLabelValues("error").Inc()
		metrics.DeadLetters.Inc()
		b.dead.append(DeadLetter{Event: ev, Handler: h.name, Reason: err.Error(), Timestamp: time.Now()})
		slog.Error("Handler failed", "handler", h.name, "event_type", ev.Type, "trace_id", ev.TraceID, "error", err)
	case <-hctx.Done():
		metrics.HandlerDuration.Observe(float64(time.Since(start).Milliseconds()))
		b.failed.Add(1)
		metrics.HandlerFailures.WithLabelValues("timeout").Inc()
		metrics.DeadLetters.Inc()
		reason := fmt.Sprintf("timeout after %s", b.cfg.HandlerTimeout)
		b.dead.append(DeadLetter{Event: ev, Handler: h.name, Reason: reason, Timestamp: time.Now()})
		slog.Error("Handler timed out", "handler", h.name, "event_type", ev.Type, "trace_id", ev.TraceID, "timeout", b.cfg.HandlerTimeout)
	}
}

// Stats returns a snapshot of the bus counters.
func (b *EventBus) Stats() Stats {
	b.mu.Lock()
	depth := b.queue.Len()
	b.mu.Unlock()
	return Stats{
		Published:          b.published.Load(),
		Processed:          b.processed.Load(),
		Failed:             b.failed.Load(),
		QueueOverflowCount: b.overflow.Load(),
		QueueDepth:         depth,
		DeadLetterCount:    b.dead.count(),
	}
}

// DeadLetters returns a copy of the retained dead-letter records.
func (b *EventBus) DeadLetters() []DeadLetter {
	return b.dead.snapshot()
}

// DrainDeadLetters returns the retained records and clears the buffer.
// The total dead-letter counter in Stats is unaffected.
func (b *EventBus) DrainDeadLetters() []DeadLetter {
	return b.dead.drain()
}
