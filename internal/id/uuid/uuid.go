// Package uuid provides request ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings for research requests.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUIDv7 string so stored reports sort by
// submission time.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether raw parses as a UUID.
func Valid(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}
