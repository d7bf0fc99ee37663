// Package idgen produces job identifiers. Generators are plain values built at
// startup and handed to whoever needs them; there is no package-level state.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// UUIDv7 yields time-ordered UUIDs, so ids sort by creation time.
type UUIDv7 struct{}

func NewUUIDv7() UUIDv7 { return UUIDv7{} }

func (UUIDv7) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id.String(), nil
}

// Sequence hands out a fixed list of ids in order. Useful when ids must be
// known ahead of time.
type Sequence struct {
	mu  sync.Mutex
	ids []string
	pos int
}

func NewSequence(ids ...string) *Sequence {
	return &Sequence{ids: ids}
}

func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.ids) {
		return "", fmt.Errorf("idgen: sequence exhausted after %d ids", len(s.ids))
	}
	id := s.ids[s.pos]
	s.pos++
	return id, nil
}
