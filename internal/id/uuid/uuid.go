// Package uuid generates request identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 request IDs.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string. If the v7 source fails it falls back to a
// random UUIDv4 so a request is never left without an ID.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
