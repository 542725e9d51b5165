// Package state provides the atomic state manager: named whole-document
// JSON state with temp-write-validate-rename commits, synchronous rotating
// backups, and point-in-time restore.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keelcore/keelcore/internal/metrics"
)

// DefaultRetention is how many backups per document survive pruning.
const DefaultRetention = 24

// Config holds state manager settings.
type Config struct {
	Dir       string `json:"dir" envconfig:"DIR"`
	Retention int    `json:"retention" envconfig:"RETENTION"`
}

// DefaultConfig returns sensible state defaults.
func DefaultConfig() Config {
	return Config{Retention: DefaultRetention}
}

// ValidationError reports a document that failed to parse back after the
// temporary write. The temp file is left in place for inspection.
type ValidationError struct {
	Name string
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("state %s failed validation (temp kept at %s): %v", e.Name, e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a missing document or backup.
type NotFoundError struct {
	Name      string
	Timestamp time.Time
}

func (e *NotFoundError) Error() string {
	if e.Timestamp.IsZero() {
		return fmt.Sprintf("state %s not found", e.Name)
	}
	return fmt.Sprintf("state %s has no backup at %s", e.Name, e.Timestamp.Format(time.RFC3339Nano))
}

// StorageError wraps I/O failures. The previously committed document is
// never corrupted by a failed write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("state %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Manager persists named JSON documents under a directory. Live documents
// live at <dir>/<name>.json, backups at <dir>/snapshots/<name>-<nanos>.json.
// Writes to different documents proceed independently; writes to the same
// document serialize.
type Manager struct {
	dir       string
	retention int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates the state and snapshot directories if needed.
// retention <= 0 uses DefaultRetention.
func NewManager(dir string, retention int) (*Manager, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := os.MkdirAll(filepath.Join(dir, "snapshots"), 0o755); err != nil {
		return nil, storageErr("init dirs", err)
	}
	return &Manager{dir: dir, retention: retention, locks: make(map[string]*sync.Mutex)}, nil
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

func (m *Manager) livePath(name string) string {
	return filepath.Join(m.dir, name+".json")
}

func (m *Manager) backupPath(name string, ts time.Time) string {
	return filepath.Join(m.dir, "snapshots", fmt.Sprintf("%s-%d.json", name, ts.UnixNano()))
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}

// WriteState commits doc as the new value of the named document. The write
// goes to a temp path first, is parsed back to validate it, and only then
// renamed over the live path, so a crash mid-write can never tear the live
// document. On success a timestamped backup is written synchronously and
// old backups beyond the retention count are pruned.
func (m *Manager) WriteState(name string, doc any) error {
	if err := validName(name); err != nil {
		return err
	}
	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		metrics.StateWrites.WithLabelValues("error").Inc()
		return storageErr("encode "+name, err)
	}

	tmp := m.livePath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		metrics.StateWrites.WithLabelValues("error").Inc()
		return storageErr("write temp "+name, err)
	}

	// Read the temp file back and parse it before it can become live. A
	// validation failure keeps the temp file around for inspection.
	written, err := os.ReadFile(tmp)
	if err != nil {
		metrics.StateWrites.WithLabelValues("error").Inc()
		return storageErr("read back "+name, err)
	}
	var check any
	if err := json.Unmarshal(written, &check); err != nil {
		metrics.StateWrites.WithLabelValues("invalid").Inc()
		return &ValidationError{Name: name, Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, m.livePath(name)); err != nil {
		metrics.StateWrites.WithLabelValues("error").Inc()
		return storageErr("commit "+name, err)
	}

	ts := time.Now()
	if err := os.WriteFile(m.backupPath(name, ts), written, 0o644); err != nil {
		metrics.StateWrites.WithLabelValues("error").Inc()
		return storageErr("backup "+name, err)
	}
	if err := m.pruneBackups(name); err != nil {
		slog.Warn("Backup pruning failed", "name", name, "error", err)
	}

	metrics.StateWrites.WithLabelValues("ok").Inc()
	slog.Debug("State committed", "name", name, "bytes", len(written))
	return nil
}

// ReadState loads the named document into out.
func (m *Manager) ReadState(name string, out any) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := os.ReadFile(m.livePath(name))
	if os.IsNotExist(err) {
		return &NotFoundError{Name: name}
	}
	if err != nil {
		return storageErr("read "+name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return storageErr("decode "+name, err)
	}
	return nil
}

// RestoreFromBackup loads the backup taken at ts into out. The live
// document is never touched; a caller wanting to roll back writes the
// returned value via WriteState.
func (m *Manager) RestoreFromBackup(name string, ts time.Time, out any) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := os.ReadFile(m.backupPath(name, ts))
	if os.IsNotExist(err) {
		return &NotFoundError{Name: name, Timestamp: ts}
	}
	if err != nil {
		return storageErr("read backup "+name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return storageErr("decode backup "+name, err)
	}
	return nil
}

// ListBackups returns the backup timestamps for a document, oldest first.
func (m *Manager) ListBackups(name string) ([]time.Time, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	stamps, _, err := m.backups(name)
	return stamps, err
}

// backups returns timestamps and matching file paths, oldest first.
func (m *Manager) backups(name string) ([]time.Time, []string, error) {
	pattern := filepath.Join(m.dir, "snapshots", name+"-*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, nil, storageErr("list backups "+name, err)
	}

	type stamped struct {
		ts   time.Time
		path string
	}
	var found []stamped
	prefix := name + "-"
	for _, p := range paths {
		base := strings.TrimSuffix(filepath.Base(p), ".json")
		nanos, err := strconv.ParseInt(strings.TrimPrefix(base, prefix), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, stamped{ts: time.Unix(0, nanos), path: p})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ts.Before(found[j].ts) })

	stamps := make([]time.Time, len(found))
	files := make([]string, len(found))
	for i, f := range found {
		stamps[i] = f.ts
		files[i] = f.path
	}
	return stamps, files, nil
}

func (m *Manager) pruneBackups(name string) error {
	_, files, err := m.backups(name)
	if err != nil {
		return err
	}
	if len(files) <= m.retention {
		return nil
	}
	for _, p := range files[:len(files)-m.retention] {
		if err := os.Remove(p); err != nil {
			return storageErr("prune "+name, err)
		}
		metrics.BackupsPruned.Inc()
	}
	return nil
}
