// Package notify turns status changes of visible nodes into short-lived
// entries. Each entry counts down on its own; one expiring never touches the
// others.
package notify

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
	"navsync/internal/tree"
)

const (
	DefaultTTL = 30 * time.Second
	TickEvery  = time.Second
)

type Entry struct {
	ID        ulid.ULID
	NodeID    domain.NodeID
	Label     string
	Old       domain.Status
	New       domain.Status
	CreatedAt time.Time
	Remaining time.Duration
}

func (entry Entry) Message() string {
	return fmt.Sprintf("%s changed from %s to %s", entry.Label, entry.Old, entry.New)
}

type Center struct {
	mu      sync.Mutex
	entries []Entry
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

func NewCenter(ttl time.Duration, logger zerolog.Logger) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Observe compares two status maps and records one entry per visible node
// whose status changed. Ids missing from previous are first observations and
// never notify. Labels come from forest; the id is used when the node is gone.
func (center *Center) Observe(previous, next map[domain.NodeID]domain.Status, visible map[domain.NodeID]bool, forest *tree.Forest) []Entry {
	var created []Entry
	for id, status := range next {
		old, seen := previous[id]
		if !seen || old == status || !visible[id] {
			continue
		}
		label := id.String()
		if node, ok := forest.Find(id); ok && node.Label != "" {
			label = node.Label
		}
		created = append(created, Entry{
			ID:        ulid.Make(),
			NodeID:    id,
			Label:     label,
			Old:       old,
			New:       status,
			CreatedAt: center.now(),
			Remaining: center.ttl,
		})
	}
	if len(created) == 0 {
		return nil
	}
	slices.SortFunc(created, func(a, b Entry) int {
		return strings.Compare(a.NodeID.String(), b.NodeID.String())
	})
	center.mu.Lock()
	center.entries = append(center.entries, created...)
	center.mu.Unlock()
	for _, entry := range created {
		center.logger.Debug().Str("id", entry.NodeID.String()).Msg(entry.Message())
	}
	return created
}

// Tick advances every countdown by one tick and drops the entries that reach
// zero. It returns how many were dropped.
func (center *Center) Tick() int {
	center.mu.Lock()
	defer center.mu.Unlock()
	kept := center.entries[:0]
	for _, entry := range center.entries {
		entry.Remaining -= TickEvery
		if entry.Remaining > 0 {
			kept = append(kept, entry)
		}
	}
	expired := len(center.entries) - len(kept)
	// clear the tail so dropped entries are not retained
	for i := len(kept); i < len(center.entries); i++ {
		center.entries[i] = Entry{}
	}
	center.entries = kept
	return expired
}

// Run ticks until ctx ends. onTick, when set, runs after every tick.
func (center *Center) Run(ctx context.Context, onTick func()) error {
	ticker := time.NewTicker(TickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			center.Tick()
			if onTick != nil {
				onTick()
			}
		}
	}
}

// Clear empties the list without touching any status map.
func (center *Center) Clear() {
	center.mu.Lock()
	center.entries = nil
	center.mu.Unlock()
}

// Entries returns the live entries, oldest first.
func (center *Center) Entries() []Entry {
	center.mu.Lock()
	defer center.mu.Unlock()
	return append([]Entry(nil), center.entries...)
}
