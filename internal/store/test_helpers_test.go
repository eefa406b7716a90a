package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh journal database in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestJournal(t *testing.T, s *Store, run string) *Journal {
	t.Helper()
	j, err := NewJournal(context.Background(), s, run)
	if err != nil {
		t.Fatalf("NewJournal() failed: %v", err)
	}
	return j
}
