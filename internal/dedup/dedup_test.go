package dedup

import (
	"path/filepath"
	"testing"
)

func TestSeenAndMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	seen, err := s.Seen("open:ev-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() = true before Mark, want false")
	}

	if err := s.Mark("open:ev-1"); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}

	seen, err = s.Seen("open:ev-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("Seen() = false after Mark, want true")
	}

	// Different kind with the same event id is a different key
	seen, err = s.Seen("click:ev-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() = true for unmarked key, want false")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Mark("bounce:ev-9"); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	seen, err := s.Seen("bounce:ev-9")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("Seen() = false after reopen, want true")
	}
}
