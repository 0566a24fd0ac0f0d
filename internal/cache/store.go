package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 512

// Store persists encoded entries. Expiry is decided by Cache, not the store.
type Store interface {
	Load(key string) ([]byte, bool, error)
	Save(key string, written time.Time, data []byte) error
	Delete(key string) error
}

// Sweeper is implemented by stores that can drop stale entries in bulk.
type Sweeper interface {
	Sweep(ctx context.Context, before time.Time, maxEntries int) (int, error)
}

type EvictionCounter interface {
	Evictions() uint64
}

type memoryEntry struct {
	written time.Time
	data    []byte
}

// MemoryStore is a bounded in-process store; the least recently used entry
// is evicted once the capacity is reached.
type MemoryStore struct {
	entries   *lru.Cache[string, memoryEntry]
	evictions atomic.Uint64
}

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &MemoryStore{entries: entries}, nil
}

func (store *MemoryStore) Load(key string) ([]byte, bool, error) {
	entry, ok := store.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (store *MemoryStore) Save(key string, written time.Time, data []byte) error {
	if store.entries.Add(key, memoryEntry{written: written, data: append([]byte{}, data...)}) {
		store.evictions.Add(1)
	}
	return nil
}

func (store *MemoryStore) Delete(key string) error {
	store.entries.Remove(key)
	return nil
}

func (store *MemoryStore) Len() int {
	return store.entries.Len()
}

// Evictions counts entries pushed out by the capacity bound.
func (store *MemoryStore) Evictions() uint64 {
	return store.evictions.Load()
}

func (store *MemoryStore) Sweep(ctx context.Context, before time.Time, maxEntries int) (int, error) {
	removed := 0
	for _, key := range store.entries.Keys() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		entry, ok := store.entries.Peek(key)
		if ok && entry.written.Before(before) {
			store.entries.Remove(key)
			removed++
		}
	}
	for maxEntries > 0 && store.entries.Len() > maxEntries {
		if _, _, ok := store.entries.RemoveOldest(); !ok {
			break
		}
		removed++
	}
	return removed, nil
}
