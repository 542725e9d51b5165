package bus

import (
	"sync"
	"time"
)

// DeadLetter records one handler failure for operator inspection.
type DeadLetter struct {
	Event     *Event    `json:"event"`
	Handler   string    `json:"handler"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// deadLetterRing is a bounded append-only buffer. When full, the oldest
// record is dropped; the total counter keeps growing so Stats still reflects
// every failure.
type deadLetterRing struct {
	mu    sync.Mutex
	buf   []DeadLetter
	limit int
	total int64
}

func newDeadLetterRing(limit int) *deadLetterRing {
	if limit <= 0 {
		limit = 1000
	}
	return &deadLetterRing{limit: limit}
}

func (r *deadLetterRing) append(d DeadLetter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == r.limit {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:r.limit-1]
	}
	r.buf = append(r.buf, d)
	r.total++
}

func (r *deadLetterRing) snapshot() []DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeadLetter, len(r.buf))
	copy(out, r.buf)
	return out
}

func (r *deadLetterRing) drain() []DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.buf
	r.buf = nil
	return out
}

func (r *deadLetterRing) count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
