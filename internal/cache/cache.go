// Package cache holds the latest observed value of every measurement kind.
//
// The table has one slot per wire.Kind, fixed at compile time and populated
// with zero values from construction, so a lookup never has to ask whether a
// kind exists, only how fresh its value is. One goroutine writes (the
// aggregator) and readers take whole-table snapshots under the same short
// lock.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/pigeon9001/pigeon/internal/wire"
)

// Entry is the most recent sample of one kind.
type Entry struct {
	Integral int16     `json:"integral"`
	Decimal  float32   `json:"decimal"`
	Updated  time.Time `json:"updated"`
}

// Snapshot is a consistent copy of the whole cache taken at one instant.
type Snapshot struct {
	Entries [wire.NumKinds]Entry
	// Updates counts every Set applied before the snapshot was taken.
	Updates uint64
}

// Get returns the entry for k. Out-of-range kinds yield the zero Entry.
func (s Snapshot) Get(k wire.Kind) Entry {
	if !k.Valid() {
		return Entry{}
	}
	return s.Entries[k]
}

// Fresh reports whether k has been written at least once.
func (s Snapshot) Fresh(k wire.Kind) bool {
	return !s.Get(k).Updated.IsZero()
}

// LiveState is the shared live-state cache.
type LiveState struct {
	mu      sync.Mutex
	entries [wire.NumKinds]Entry
	updates uint64
}

// New returns a cache with every kind present at (0, 0.0).
func New() *LiveState {
	return &LiveState{}
}

// Set overwrites the entry for kind.
func (c *LiveState) Set(kind wire.Kind, integral int16, decimal float32, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("cache set: %w: %d", wire.ErrUnknownKind, uint32(kind))
	}
	c.mu.Lock()
	c.entries[kind] = Entry{Integral: integral, Decimal: decimal, Updated: at}
	c.updates++
	c.mu.Unlock()
	return nil
}

// Apply stores a decoded message received at the given time.
func (c *LiveState) Apply(m wire.Message, at time.Time) error {
	return c.Set(m.Kind, m.Integral, m.Decimal, at)
}

// Snapshot copies the full table under the lock.
func (c *LiveState) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Entries: c.entries, Updates: c.updates}
}
