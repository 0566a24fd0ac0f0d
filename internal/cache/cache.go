// Package cache stores recently fetched node lists under string keys. Entries
// expire a fixed time after they were written; expiry is checked lazily when
// an entry is read.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

const (
	envelopeVersion = 1
	maxPayloadBytes = 8 * 1024 * 1024

	DefaultTTL = 60 * time.Second

	// TopLevelKey holds the last top-level listing.
	TopLevelKey = "topLevel"
)

var ErrMalformed = errors.New("malformed cache entry")

// ChildrenKey is the key of the cached child list of id.
func ChildrenKey(id domain.NodeID) string {
	return "children_" + id.String()
}

type envelope struct {
	Version   int             `json:"v"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Expired   uint64
	Malformed uint64
	Writes    uint64
	Evictions uint64
}

type Option func(*Cache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(cache *Cache) {
		cache.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cache *Cache) {
		cache.logger = logger.With().Str("component", "cache").Logger()
	}
}

type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

func New(store Store, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := &Cache{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

func (cache *Cache) TTL() time.Duration {
	return cache.ttl
}

// Get returns the payload stored under key. An entry whose age reached the
// TTL is deleted and reported absent, as is an entry that cannot be decoded.
func (cache *Cache) Get(key string) ([]byte, bool) {
	data, ok, err := cache.store.Load(key)
	if err != nil {
		cache.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		cache.count(func(stats *Stats) { stats.Misses++ })
		return nil, false
	}
	if !ok {
		cache.count(func(stats *Stats) { stats.Misses++ })
		return nil, false
	}
	entry, err := decodeEnvelope(data)
	if err != nil {
		cache.logger.Debug().Err(err).Str("key", key).Msg("discarding cache entry")
		cache.drop(key)
		cache.count(func(stats *Stats) { stats.Malformed++; stats.Misses++ })
		return nil, false
	}
	age := cache.now().Sub(time.UnixMilli(entry.Timestamp))
	if age >= cache.ttl {
		cache.drop(key)
		cache.count(func(stats *Stats) { stats.Expired++; stats.Misses++ })
		return nil, false
	}
	cache.count(func(stats *Stats) { stats.Hits++ })
	return entry.Data, true
}

// Set overwrites key with payload stamped at the current time.
func (cache *Cache) Set(key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if len(data) > maxPayloadBytes {
		return fmt.Errorf("cache entry %s too large: %d bytes", key, len(data))
	}
	now := cache.now()
	wrapped, err := json.Marshal(envelope{Version: envelopeVersion, Timestamp: now.UnixMilli(), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := cache.store.Save(key, now, wrapped); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	cache.count(func(stats *Stats) { stats.Writes++ })
	return nil
}

func (cache *Cache) Delete(key string) error {
	return cache.store.Delete(key)
}

// Records reads a cached node list. A payload that does not decode into
// records is removed and treated as a miss.
func (cache *Cache) Records(key string) ([]domain.NodeRecord, bool) {
	data, ok := cache.Get(key)
	if !ok {
		return nil, false
	}
	var records []domain.NodeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		cache.logger.Debug().Err(err).Str("key", key).Msg("discarding cached records")
		cache.drop(key)
		cache.count(func(stats *Stats) { stats.Malformed++ })
		return nil, false
	}
	return records, true
}

func (cache *Cache) SetRecords(key string, records []domain.NodeRecord) error {
	if records == nil {
		records = []domain.NodeRecord{}
	}
	return cache.Set(key, records)
}

// Sweep removes expired entries when the store supports bulk expiry.
func (cache *Cache) Sweep(ctx context.Context, maxEntries int) (int, error) {
	sweeper, ok := cache.store.(Sweeper)
	if !ok {
		return 0, nil
	}
	removed, err := sweeper.Sweep(ctx, cache.now().Add(-cache.ttl), maxEntries)
	if err != nil {
		return removed, fmt.Errorf("sweep cache: %w", err)
	}
	if removed > 0 {
		cache.logger.Debug().Int("removed", removed).Msg("cache swept")
	}
	return removed, nil
}

func (cache *Cache) Stats() Stats {
	cache.mu.Lock()
	stats := cache.stats
	cache.mu.Unlock()
	if counter, ok := cache.store.(EvictionCounter); ok {
		stats.Evictions = counter.Evictions()
	}
	return stats
}

func (cache *Cache) drop(key string) {
	if err := cache.store.Delete(key); err != nil {
		cache.logger.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}

func (cache *Cache) count(update func(*Stats)) {
	cache.mu.Lock()
	update(&cache.stats)
	cache.mu.Unlock()
}

func decodeEnvelope(data []byte) (envelope, error) {
	var entry envelope
	if len(data) > maxPayloadBytes {
		return entry, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if entry.Version != envelopeVersion {
		return entry, fmt.Errorf("%w: version %d", ErrMalformed, entry.Version)
	}
	if len(entry.Data) == 0 {
		return entry, fmt.Errorf("%w: no data", ErrMalformed)
	}
	return entry, nil
}
