// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique v7 UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected unique IDs")
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", id1, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

// TestValid accepts UUIDs and rejects garbage.
func TestValid(t *testing.T) {
	t.Parallel()

	if !Valid(goUUID.NewString()) {
		t.Fatal("expected random UUID to be valid")
	}
	if Valid("not-a-uuid") {
		t.Fatal("expected garbage to be invalid")
	}
}
