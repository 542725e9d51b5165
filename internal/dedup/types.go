// Package dedup provides the idempotent deduplication store: three-layer
// duplicate detection (exact fingerprint, topic hash, similarity) over
// TTL-bounded sqlite entries, plus a compare-and-swap store variant for
// exactly-once side-effect guards.
package dedup

import (
	"errors"
	"fmt"
	"time"
)

// Memory types classify what an entry deduplicates or remembers.
const (
	TypeContentDuplicate = "content_duplicate"
	TypeIntentDuplicate  = "intent_duplicate"
	TypeConversation     = "conversation"
	TypeTradeLearning    = "trade_learning"
	TypeProfile          = "profile"
	TypeSystemState      = "system_state"
)

// Match reasons returned by IsDuplicate, in detection order.
const (
	ReasonExact      = "exact_match"
	ReasonTopic      = "topic_match"
	ReasonSimilarity = "similarity_match"
)

// DefaultSimilarityThreshold applies when IsDuplicate is called with a
// non-positive threshold.
const DefaultSimilarityThreshold = 0.8

// Entry is one stored dedup record. Fingerprint and TopicHash are computed
// at store time when absent.
type Entry struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	MemoryType  string         `json:"memory_type"`
	EntityID    string         `json:"entity_id"`
	EntityType  string         `json:"entity_type"`
	Fingerprint string         `json:"fingerprint"`
	TopicHash   string         `json:"topic_hash"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	// ExpiresAt zero means the entry is durable and never cleaned up.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// StatusExecuted / StatusFailed are the well-known intent outcome values
// recorded via MarkOutcome.
const (
	StatusExecuted = "executed"
	StatusFailed   = "failed"
)

// ErrDuplicateIntent is returned by StoreUnique when a live entry with the
// same (entity_id, entity_type, memory_type, fingerprint) already exists.
var ErrDuplicateIntent = errors.New("duplicate intent")

// StorageError wraps I/O failures from the backing database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("dedup %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Stats summarizes the store contents for the operator surface.
type Stats struct {
	Total   int64            `json:"total"`
	ByType  map[string]int64 `json:"by_type"`
	Expired int64            `json:"expired"`
}
