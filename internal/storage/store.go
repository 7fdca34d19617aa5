// Package storage holds the in-memory key/value table owned by a single shard.
//
// The table keeps keys ordered with keyrange.LessFold so that the split
// protocol can read the current key population in ascending order, and select
// the keys above a cut, without sorting a copy of the map.
package storage

import (
	"errors"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"github.com/dreamware/rangedir/internal/keyrange"
)

var (
	// ErrKeyNotFound is returned when a key is not bound in the store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrAlreadyBound is returned by Put when the key already has a value.
	// Bindings are never overwritten.
	ErrAlreadyBound = errors.New("key already bound")
)

// Entry is one key/value binding.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Stats contains statistics about the store.
type Stats struct {
	Keys  int `json:"keys"`  // Number of keys
	Bytes int `json:"bytes"` // Total size of keys and values in bytes
}

type orderedTable = skipmap.FuncMap[string, string]

// Store is a directory table. Every operation holds the store mutex for the
// duration of the table access and never performs I/O while holding it.
type Store struct {
	mu    sync.Mutex
	data  *orderedTable
	bytes int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data: skipmap.NewFunc[string, string](keyrange.LessFold),
	}
}

// Get returns the value bound to key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Load(key)
}

// Put binds key to value. A key is bound exactly once: Put on an existing key
// returns ErrAlreadyBound and leaves the old value in place.
func (s *Store) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Load(key); ok {
		return ErrAlreadyBound
	}
	s.data.Store(key, value)
	s.bytes += len(key) + len(value)
	return nil
}

// Remove unbinds key. Removing an absent key returns ErrKeyNotFound and does
// not modify the store.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data.LoadAndDelete(key)
	if !ok {
		return ErrKeyNotFound
	}
	s.bytes -= len(key) + len(value)
	return nil
}

// Len returns the number of bound keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Len()
}

// SortedKeys returns every key in ascending case-insensitive order.
func (s *Store) SortedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.data.Len())
	s.data.Range(func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// KeysAbove returns, in ascending order, the keys that compare strictly
// greater than cut.
func (s *Store) KeysAbove(cut string) []string {
	entries := s.EntriesAbove(cut)
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// EntriesAbove returns a snapshot of the bindings whose keys compare strictly
// greater than cut. The snapshot is what a split hands over to the new shard.
func (s *Store) EntriesAbove(cut string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	s.data.Range(func(key, value string) bool {
		if keyrange.CompareFold(key, cut) > 0 {
			entries = append(entries, Entry{Key: key, Value: value})
		}
		return true
	})
	return entries
}

// Stats returns storage statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Keys: s.data.Len(), Bytes: s.bytes}
}
