// Package contractmap holds the contract-number → location mapping that drives
// invoice matching. The mapping is rebuilt wholesale from a spreadsheet upload
// and swapped atomically, so readers never observe a half-built map.
package contractmap

import (
	"sync/atomic"
	"time"
)

// Map is an immutable snapshot of the contract mapping. Lookups are safe from
// any goroutine; a rebuild produces a fresh Map rather than mutating this one.
type Map struct {
	entries map[string]string
	builtAt time.Time
}

// NewMap copies entries into an immutable snapshot.
func NewMap(entries map[string]string) *Map {
	cp := make(map[string]string, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return &Map{entries: cp, builtAt: time.Now()}
}

// Location returns the location label for a contract number.
func (m *Map) Location(contract string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.entries[contract]
	return v, ok
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

func (m *Map) BuiltAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.builtAt
}

// Store owns the current Map and hands out snapshots. Swap replaces the whole
// mapping; there is no incremental merge.
type Store struct {
	current atomic.Pointer[Map]
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(NewMap(nil))
	return s
}

// Snapshot returns the current mapping. Never nil.
func (s *Store) Snapshot() *Map {
	return s.current.Load()
}

// Swap installs m as the current mapping.
func (s *Store) Swap(m *Map) {
	if m == nil {
		m = NewMap(nil)
	}
	s.current.Store(m)
}

// Reset replaces the current mapping with an empty one.
func (s *Store) Reset() {
	s.current.Store(NewMap(nil))
}
