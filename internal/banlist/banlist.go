// Package banlist keeps the persisted set of requesters that are ignored.
package banlist

import (
	"fmt"
	"slices"
	"sync"

	"github.com/spf13/afero"

	"github.com/JakeFAU/pinsave/internal/kv"
)

// Set is a persisted set of banned requester IDs. The document on disk is a
// sorted JSON array of integers.
type Set struct {
	fs   afero.Fs
	path string
	mu   sync.RWMutex
	ids  map[int64]struct{}
}

// Load reads the ban list at path, starting empty when it is absent or
// unreadable.
func Load(fs afero.Fs, path string) *Set {
	s := &Set{fs: fs, path: path, ids: map[int64]struct{}{}}
	for _, id := range kv.Load[[]int64](fs, path, nil) {
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is banned.
func (s *Set) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add bans id and persists the list.
func (s *Set) Add(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
	return s.persistLocked()
}

// Remove lifts the ban on id and persists the list.
func (s *Set) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
	return s.persistLocked()
}

// List returns the banned IDs in ascending order.
func (s *Set) List() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Len reports the number of banned requesters.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Set) sortedLocked() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Set) persistLocked() error {
	if err := kv.Save(s.fs, s.path, s.sortedLocked()); err != nil {
		return fmt.Errorf("persist ban list: %w", err)
	}
	return nil
}
