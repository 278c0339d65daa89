package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fetchedAt := time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC)
	content := []byte("<html>listing</html>")

	m1, err := s.Put("remoteboard-sample", "https://jobs.example.invalid/remote", "text/html", content, fetchedAt, ".html")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	m2, err := s.Put("remoteboard-sample", "https://jobs.example.invalid/remote", "text/html", content, fetchedAt, ".html")
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}

	if m1.StoragePath != m2.StoragePath {
		t.Fatalf("expected identical placement for identical content, got %s vs %s", m1.StoragePath, m2.StoragePath)
	}
	if m1.ID != m2.ID {
		t.Fatalf("expected stable artifact id, got %s vs %s", m1.ID, m2.ID)
	}
	if m1.ContentHash == "" {
		t.Fatal("expected a non-empty content hash")
	}

	got, err := os.ReadFile(m1.StoragePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Fatal("stored bytes do not match input")
	}
}

func TestPutDifferentContentDifferentPath(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fetchedAt := time.Now()

	m1, err := s.Put("src", "https://a.invalid", "text/plain", []byte("one"), fetchedAt, ".txt")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	m2, err := s.Put("src", "https://a.invalid", "text/plain", []byte("two"), fetchedAt, ".txt")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if m1.StoragePath == m2.StoragePath {
		t.Fatal("expected distinct content to land at distinct paths")
	}
}

func TestPutDetectsSizeMismatchOnHashCollisionAssumption(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fetchedAt := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	content := []byte("original")

	m, err := s.Put("src", "https://a.invalid", "text/plain", content, fetchedAt, ".txt")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Simulate on-disk corruption: truncate the file the content hash
	// claims to describe, then attempt to place the same logical bytes
	// again. The store must refuse rather than silently reuse the path.
	if err := os.Truncate(m.StoragePath, 2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	if _, err := s.Put("src", "https://a.invalid", "text/plain", content, fetchedAt, ".txt"); err == nil {
		t.Fatal("expected a size-mismatch error, got nil")
	}
}

func TestPutDeterministicIsStableAcrossRuns(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fetchedAt := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)
	content := []byte(`{"title":"DevOps Engineer"}`)

	m1, err := s.PutDeterministic("weworkremotely", "manual/weworkremotely/raw/devops-engineer.json", "https://weworkremotely.com/x", "application/json", content, fetchedAt, ".json")
	if err != nil {
		t.Fatalf("PutDeterministic: %v", err)
	}
	m2, err := s.PutDeterministic("weworkremotely", "manual/weworkremotely/raw/devops-engineer.json", "https://weworkremotely.com/x", "application/json", content, fetchedAt, ".json")
	if err != nil {
		t.Fatalf("PutDeterministic: %v", err)
	}
	if m1.ID != m2.ID {
		t.Fatalf("expected deterministic id across repeated replay, got %s vs %s", m1.ID, m2.ID)
	}
}

func TestStatDetectsHashMismatch(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := filepath.Join(root, "plain.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Stat(p, "not-the-real-hash"); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}
