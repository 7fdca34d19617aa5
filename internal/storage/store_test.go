package storage

import (
	"fmt"
	"sync"
	"testing"
)

// TestStore tests the directory table operations
func TestStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewStore()

		if store.Len() != 0 {
			t.Errorf("Expected empty store, got %d keys", store.Len())
		}

		if _, ok := store.Get("nonexistent"); ok {
			t.Error("Expected lookup of absent key to fail")
		}
	})

	t.Run("put then get", func(t *testing.T) {
		store := NewStore()

		if err := store.Put("k", "v"); err != nil {
			t.Fatalf("Failed to put value: %v", err)
		}

		value, ok := store.Get("k")
		if !ok {
			t.Fatal("Expected key to be bound")
		}
		if value != "v" {
			t.Errorf("Expected 'v', got %q", value)
		}
	})

	t.Run("second put is rejected", func(t *testing.T) {
		store := NewStore()
		store.Put("k", "v")

		if err := store.Put("k", "v2"); err != ErrAlreadyBound {
			t.Fatalf("Expected ErrAlreadyBound, got %v", err)
		}

		// Original binding is untouched
		if value, _ := store.Get("k"); value != "v" {
			t.Errorf("Expected 'v' after rejected put, got %q", value)
		}
	})

	t.Run("remove then get", func(t *testing.T) {
		store := NewStore()
		store.Put("k", "v")

		if err := store.Remove("k"); err != nil {
			t.Fatalf("Failed to remove: %v", err)
		}
		if _, ok := store.Get("k"); ok {
			t.Error("Expected key to be gone after remove")
		}
	})

	t.Run("remove of absent key never mutates", func(t *testing.T) {
		store := NewStore()
		store.Put("a", "1")
		before := store.Stats()

		for i := 0; i < 3; i++ {
			if err := store.Remove("missing"); err != ErrKeyNotFound {
				t.Fatalf("Expected ErrKeyNotFound, got %v", err)
			}
		}

		if after := store.Stats(); after != before {
			t.Errorf("Expected stats %+v to be unchanged, got %+v", before, after)
		}
	})

	t.Run("keys come back sorted", func(t *testing.T) {
		store := NewStore()
		for _, k := range []string{"d", "aca", "Aba", "aaa"} {
			store.Put(k, "x")
		}

		got := store.SortedKeys()
		want := []string{"aaa", "Aba", "aca", "d"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("keys above a cut", func(t *testing.T) {
		store := NewStore()
		for _, k := range []string{"aaa", "aba", "ac", "aca", "d"} {
			store.Put(k, "v-"+k)
		}

		got := store.KeysAbove("ac")
		want := []string{"aca", "d"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("Expected %v, got %v", want, got)
		}

		entries := store.EntriesAbove("ac")
		if len(entries) != 2 || entries[0].Value != "v-aca" || entries[1].Value != "v-d" {
			t.Errorf("Unexpected entries above cut: %+v", entries)
		}
	})

	t.Run("stats track bytes", func(t *testing.T) {
		store := NewStore()
		store.Put("key", "value")
		store.Put("k2", "v2")

		stats := store.Stats()
		if stats.Keys != 2 {
			t.Errorf("Expected 2 keys, got %d", stats.Keys)
		}
		if stats.Bytes != len("keyvalue")+len("k2v2") {
			t.Errorf("Expected %d bytes, got %d", len("keyvaluek2v2"), stats.Bytes)
		}

		store.Remove("key")
		if stats := store.Stats(); stats.Bytes != len("k2v2") {
			t.Errorf("Expected %d bytes after remove, got %d", len("k2v2"), stats.Bytes)
		}
	})
}

// TestStoreConcurrency tests that concurrent puts of the same key bind exactly once
func TestStoreConcurrency(t *testing.T) {
	store := NewStore()

	numGoroutines := 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			if err := store.Put("contended", fmt.Sprintf("value-%d", id)); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
			store.Put(fmt.Sprintf("own-%d", id), "x")
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one successful put, got %d", winners)
	}
	if store.Len() != numGoroutines+1 {
		t.Errorf("Expected %d keys, got %d", numGoroutines+1, store.Len())
	}
}
