// Package idgen generates lexicographically time-sortable identifiers for
// splits and workbenches, using ULID (spec §3: "split_id (ULID-like,
// lexicographically time-sortable)").
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source is a monotonic ULID generator safe for concurrent use. Monotonicity
// guarantees that IDs minted within the same millisecond by one Source still
// sort in generation order.
type Source struct {
	mu  sync.Mutex
	ent *ulid.MonotonicEntropy
}

// NewSource builds a new ULID Source.
func NewSource() *Source {
	return &Source{ent: ulid.Monotonic(rand.Reader, 0)}
}

// New mints a new ULID for the given timestamp.
func (s *Source) New(t time.Time) ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.ent)
}

// NewSplitID mints a split identifier.
func (s *Source) NewSplitID() string { return s.New(time.Now()).String() }

// NewWorkbenchID mints a workbench identifier.
func (s *Source) NewWorkbenchID() string { return s.New(time.Now()).String() }
