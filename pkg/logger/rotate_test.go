package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newRotatingWriter(path, 10, 2, 0)
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer w.Close()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for i := 0; i < 4; i++ {
		if _, err := w.Write([]byte("0123456789")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups := w.backups()
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups after pruning, got %v", backups)
	}
	if !strings.Contains(filepath.Base(backups[0]), "20260101T000003.000") {
		t.Fatalf("newest backup should come first, got %v", backups)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != "0123456789" {
		t.Fatalf("unexpected current content %q", current)
	}
}

func TestRotatingWriterPrunesByAge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newRotatingWriter(path, 5, 0, time.Hour)
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer w.Close()

	stale := w.backupName(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	_, _ = w.Write([]byte("12345"))
	_, _ = w.Write([]byte("67890"))

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale backup should be removed, stat err = %v", err)
	}
	if len(w.backups()) != 1 {
		t.Fatalf("expected the fresh backup to remain, got %v", w.backups())
	}
}
