package dedup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/keelcore/keelcore/internal/fingerprint"
	"github.com/keelcore/keelcore/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS dedup_entries (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	topic_hash TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	expires_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_dedup_scope ON dedup_entries(entity_id, entity_type, memory_type, created_at);
CREATE INDEX IF NOT EXISTS idx_dedup_fingerprint ON dedup_entries(fingerprint);
CREATE INDEX IF NOT EXISTS idx_dedup_topic ON dedup_entries(topic_hash);
CREATE INDEX IF NOT EXISTS idx_dedup_expires ON dedup_entries(expires_at);
`

// Config holds dedup store settings.
type Config struct {
	DBPath              string        `json:"dbPath" envconfig:"DB_PATH"`
	DefaultWindow       time.Duration `json:"defaultWindow" envconfig:"DEFAULT_WINDOW"`
	SimilarityThreshold float64       `json:"similarityThreshold" envconfig:"SIMILARITY_THRESHOLD"`
	CleanupInterval     time.Duration `json:"cleanupInterval" envconfig:"CLEANUP_INTERVAL"`
}

// DefaultConfig returns sensible dedup defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWindow:       24 * time.Hour,
		SimilarityThreshold: DefaultSimilarityThreshold,
		CleanupInterval:     15 * time.Minute,
	}
}

// Store is the sqlite-backed dedup store. Safe for concurrent use; writers
// serialize on the database, readers do not block cleanup.
type Store struct {
	db *sql.DB

	// SimilarityFn is the pluggable layer-3 scorer. Defaults to the
	// token-overlap Similarity from the fingerprint package.
	SimilarityFn fingerprint.Func
}

// NewStore wraps an existing database handle and applies the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, storageErr("init schema", err)
	}
	return &Store{db: db, SimilarityFn: fingerprint.Similarity}, nil
}

// Open opens (or creates) the dedup database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storageErr("open", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Store appends an entry, computing missing hashes and deriving expires_at
// from ttl (ttl <= 0 means the entry is durable). Storing duplicate content
// is always allowed; deduplication is a read-time decision. Returns the
// entry id.
func (s *Store) Store(ctx context.Context, e *Entry, ttl time.Duration) (string, error) {
	s.prepare(e, ttl)
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", storageErr("encode metadata", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dedup_entries (id, content, memory_type, entity_id, entity_type, fingerprint, topic_hash, metadata, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Content, e.MemoryType, e.EntityID, e.EntityType,
		e.Fingerprint, e.TopicHash, string(meta), e.CreatedAt, nullTime(e.ExpiresAt),
	)
	if err != nil {
		return "", storageErr("store entry", err)
	}
	return e.ID, nil
}

// StoreUnique is the compare-and-swap variant closing the check-then-act
// race: within one immediate transaction it rejects the insert with
// ErrDuplicateIntent if a live entry with the same scope and fingerprint
// already exists. A caller that wins the race should act and then record
// the outcome via MarkOutcome; the loser reads that outcome instead of
// acting again.
func (s *Store) StoreUnique(ctx context.Context, e *Entry, ttl time.Duration) (string, error) {
	s.prepare(e, ttl)
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", storageErr("encode metadata", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("begin", err)
	}
	defer tx.Rollback()

	// BEGIN IMMEDIATE semantics: take the write lock before the existence
	// check so two concurrent claims serialize.
	if _, err := tx.ExecContext(ctx, `UPDATE dedup_entries SET id = id WHERE 0`); err != nil {
		return "", storageErr("acquire write lock", err)
	}

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM dedup_entries
		 WHERE entity_id = ? AND entity_type = ? AND memory_type = ? AND fingerprint = ?
		   AND (expires_at IS NULL OR expires_at > ?)
		 LIMIT 1`,
		e.EntityID, e.EntityType, e.MemoryType, e.Fingerprint, time.Now(),
	).Scan(&existing)
	if err == nil {
		return existing, fmt.Errorf("%w: entry %s", ErrDuplicateIntent, existing)
	}
	if err != sql.ErrNoRows {
		return "", storageErr("uniqueness check", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dedup_entries (id, content, memory_type, entity_id, entity_type, fingerprint, topic_hash, metadata, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Content, e.MemoryType, e.EntityID, e.EntityType,
		e.Fingerprint, e.TopicHash, string(meta), e.CreatedAt, nullTime(e.ExpiresAt),
	)
	if err != nil {
		return "", storageErr("store entry", err)
	}
	if err := tx.Commit(); err != nil {
		return "", storageErr("commit", err)
	}
	return e.ID, nil
}

// IsDuplicate checks content against all live entries sharing the scope
// within the window, layer by layer: exact fingerprint, then topic hash,
// then similarity at or above threshold (<= 0 uses the default 0.8).
// Returns the matching layer's reason, or ("", false) when novel.
func (s *Store) IsDuplicate(ctx context.Context, content, entityID, entityType, memoryType string, window time.Duration, threshold float64) (bool, string, error) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	c := Candidate{
		Content:     content,
		Fingerprint: fingerprint.Exact(content),
		TopicHash:   fingerprint.Topic(content),
	}

	now := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, memory_type, entity_id, entity_type, fingerprint, topic_hash, metadata, created_at, expires_at
		 FROM dedup_entries
		 WHERE entity_id = ? AND entity_type = ? AND memory_type = ?
		   AND created_at > ?
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY created_at DESC`,
		entityID, entityType, memoryType, now.Add(-window), now,
	)
	if err != nil {
		return false, "", storageErr("query window", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return false, "", storageErr("scan entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return false, "", storageErr("iterate window", err)
	}

	detectors := []Detector{
		ExactDetector{},
		TopicDetector{},
		SimilarityDetector{Threshold: threshold, Fn: s.SimilarityFn},
	}
	for _, d := range detectors {
		for _, e := range entries {
			if d.Match(c, e) {
				metrics.DedupChecks.WithLabelValues(d.Name()).Inc()
				return true, d.Name(), nil
			}
		}
	}
	metrics.DedupChecks.WithLabelValues("novel").Inc()
	return false, "", nil
}

// GetEntries returns entries for an entity, most recent first. memoryType
// empty means all types. Pagination: pass the last page's oldest CreatedAt
// as before (zero means from now).
func (s *Store) GetEntries(ctx context.Context, entityID, memoryType string, before time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now().Add(time.Second)
	}

	query := `SELECT id, content, memory_type, entity_id, entity_type, fingerprint, topic_hash, metadata, created_at, expires_at
		 FROM dedup_entries WHERE entity_id = ? AND created_at < ?`
	args := []any{entityID, before}
	if memoryType != "" {
		query += ` AND memory_type = ?`
		args = append(args, memoryType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query entries", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("scan entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkOutcome merges an intent outcome into the entry's metadata so a
// concurrent duplicate caller observes the result instead of re-acting.
func (s *Store) MarkOutcome(ctx context.Context, id, status string, extra map[string]any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM dedup_entries WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("entry %s not found", id)
	}
	if err != nil {
		return storageErr("load metadata", err)
	}

	meta := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			meta = map[string]any{}
		}
	}
	meta["status"] = status
	for k, v := range extra {
		meta[k] = v
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return storageErr("encode metadata", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE dedup_entries SET metadata = ? WHERE id = ?`, string(encoded), id); err != nil {
		return storageErr("update metadata", err)
	}
	return nil
}

// GetEntry loads a single entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, memory_type, entity_id, entity_type, fingerprint, topic_hash, metadata, created_at, expires_at
		 FROM dedup_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry %s not found", id)
	}
	if err != nil {
		return nil, storageErr("load entry", err)
	}
	return e, nil
}

// CleanupExpired deletes entries past their expiry. Idempotent and safe to
// run concurrently with reads and writes; durable entries are untouched.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now())
	if err != nil {
		return 0, storageErr("cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("cleanup count", err)
	}
	if n > 0 {
		metrics.DedupEntriesExpired.Add(float64(n))
		slog.Info("Dedup cleanup removed expired entries", "count", n)
	}
	return n, nil
}

// Stats returns entry counts by type plus the expired backlog.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByType: map[string]int64{}}

	rows, err := s.db.QueryContext(ctx, `SELECT memory_type, COUNT(*) FROM dedup_entries GROUP BY memory_type`)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, storageErr("stats scan", err)
		}
		st.ByType[typ] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("stats iterate", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dedup_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now(),
	).Scan(&st.Expired)
	if err != nil {
		return nil, storageErr("stats expired", err)
	}
	return st, nil
}

// prepare fills in generated fields before an insert.
func (s *Store) prepare(e *Entry, ttl time.Duration) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Fingerprint == "" {
		e.Fingerprint = fingerprint.Exact(e.Content)
	}
	if e.TopicHash == "" {
		e.TopicHash = fingerprint.Topic(e.Content)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ExpiresAt.IsZero() && ttl > 0 {
		e.ExpiresAt = e.CreatedAt.Add(ttl)
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var e Entry
	var meta string
	var expires sql.NullTime
	err := r.Scan(&e.ID, &e.Content, &e.MemoryType, &e.EntityID, &e.EntityType,
		&e.Fingerprint, &e.TopicHash, &meta, &e.CreatedAt, &expires)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		e.ExpiresAt = expires.Time
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
	}
	return &e, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
