package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testDoc struct {
	Balance int    `json:"balance"`
	Note    string `json:"note"`
}

func setupManager(t *testing.T, retention int) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), retention)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return m
}

func TestWriteAndReadState(t *testing.T) {
	m := setupManager(t, 0)

	in := testDoc{Balance: 100, Note: "initial"}
	if err := m.WriteState("positions", in); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}

	var out testDoc
	if err := m.ReadState("positions", &out); err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestReadMissingDocument(t *testing.T) {
	m := setupManager(t, 0)

	var out testDoc
	err := m.ReadState("nope", &out)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestFailedWriteLeavesLiveUntouched(t *testing.T) {
	m := setupManager(t, 0)

	if err := m.WriteState("doc", testDoc{Balance: 1}); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}

	// Channels cannot be encoded; the write must fail before touching the
	// live file.
	if err := m.WriteState("doc", map[string]any{"bad": make(chan int)}); err == nil {
		t.Fatal("expected an encoding error")
	}

	var out testDoc
	if err := m.ReadState("doc", &out); err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if out.Balance != 1 {
		t.Fatalf("live document changed after failed write: %+v", out)
	}
}

func TestCrashArtifactNeverBecomesLive(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 0)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if err := m.WriteState("doc", testDoc{Balance: 7}); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}

	// Simulate a write interrupted before the rename: a half-written temp
	// file sits next to the live one.
	tmp := filepath.Join(dir, "doc.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{"balance": 999, "no`), 0o644); err != nil {
		t.Fatalf("Failed to plant temp artifact: %v", err)
	}

	var out testDoc
	if err := m.ReadState("doc", &out); err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if out.Balance != 7 {
		t.Fatalf("reader observed the interrupted write: %+v", out)
	}
}

func TestBackupRetention(t *testing.T) {
	m := setupManager(t, DefaultRetention)

	for i := 0; i < 30; i++ {
		if err := m.WriteState("ledger", testDoc{Balance: i}); err != nil {
			t.Fatalf("WriteState %d failed: %v", i, err)
		}
	}

	stamps, err := m.ListBackups("ledger")
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(stamps) != DefaultRetention {
		t.Fatalf("expected %d backups after pruning, got %d", DefaultRetention, len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if stamps[i].Before(stamps[i-1]) {
			t.Fatalf("backups must list oldest first: %v", stamps)
		}
	}
}

func TestRestoreFromBackup(t *testing.T) {
	m := setupManager(t, 5)

	if err := m.WriteState("doc", testDoc{Balance: 1, Note: "v1"}); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}
	if err := m.WriteState("doc", testDoc{Balance: 2, Note: "v2"}); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}

	stamps, err := m.ListBackups("doc")
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(stamps) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(stamps))
	}

	var old testDoc
	if err := m.RestoreFromBackup("doc", stamps[0], &old); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}
	if old.Note != "v1" {
		t.Fatalf("expected the first version, got %+v", old)
	}

	// Restore is read-only; the live document stays at v2.
	var live testDoc
	if err := m.ReadState("doc", &live); err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if live.Note != "v2" {
		t.Fatalf("restore must not mutate the live document: %+v", live)
	}
}

func TestRestoreMissingBackup(t *testing.T) {
	m := setupManager(t, 0)

	var out testDoc
	err := m.RestoreFromBackup("doc", time.Unix(0, 12345), &out)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestInvalidDocumentName(t *testing.T) {
	m := setupManager(t, 0)
	if err := m.WriteState("../escape", testDoc{}); err == nil {
		t.Fatal("path traversal names must be rejected")
	}
	if err := m.WriteState("", testDoc{}); err == nil {
		t.Fatal("empty names must be rejected")
	}
}

func TestIndependentDocuments(t *testing.T) {
	m := setupManager(t, 0)

	if err := m.WriteState("a", testDoc{Balance: 1}); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}
	if err := m.WriteState("b", testDoc{Balance: 2}); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}

	stampsA, _ := m.ListBackups("a")
	stampsB, _ := m.ListBackups("b")
	if len(stampsA) != 1 || len(stampsB) != 1 {
		t.Fatalf("each document keeps its own backups: a=%d b=%d", len(stampsA), len(stampsB))
	}
}
