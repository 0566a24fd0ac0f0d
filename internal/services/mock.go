package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"navsync/internal/domain"
)

// MockSource keeps nodes in memory. It serves reads, acts as its own push
// channel and can simulate latency and failures.
type MockSource struct {
	mu       sync.Mutex
	records  []domain.NodeRecord
	delay    time.Duration
	failures map[domain.NodeID]error
	calls    map[domain.NodeID]int
	groups   map[domain.NodeID]bool
	pushes   chan domain.NodeRecord
}

func NewMockSource(records ...domain.NodeRecord) *MockSource {
	return &MockSource{
		records:  append([]domain.NodeRecord{}, records...),
		failures: map[domain.NodeID]error{},
		calls:    map[domain.NodeID]int{},
		groups:   map[domain.NodeID]bool{},
		pushes:   make(chan domain.NodeRecord, 64),
	}
}

func (source *MockSource) SetDelay(delay time.Duration) {
	source.mu.Lock()
	source.delay = delay
	source.mu.Unlock()
}

// Fail makes reads of id return err until it is cleared with a nil error.
// domain.RootID targets the top-level listing.
func (source *MockSource) Fail(id domain.NodeID, err error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	if err == nil {
		delete(source.failures, id)
		return
	}
	source.failures[id] = err
}

// Calls reports how many reads of id were served, domain.RootID for the
// top-level listing.
func (source *MockSource) Calls(id domain.NodeID) int {
	source.mu.Lock()
	defer source.mu.Unlock()
	return source.calls[id]
}

func (source *MockSource) TopLevel(ctx context.Context) ([]domain.NodeRecord, error) {
	return source.read(ctx, domain.RootID)
}

func (source *MockSource) Children(ctx context.Context, id domain.NodeID) ([]domain.NodeRecord, error) {
	return source.read(ctx, id)
}

func (source *MockSource) read(ctx context.Context, parent domain.NodeID) ([]domain.NodeRecord, error) {
	source.mu.Lock()
	source.calls[parent]++
	delay := source.delay
	source.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	if err := source.failures[parent]; err != nil {
		return nil, err
	}
	out, ok := selectChildren(source.records, parent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parent)
	}
	return out, nil
}

// Upsert changes the stored data without announcing it.
func (source *MockSource) Upsert(record domain.NodeRecord) {
	source.mu.Lock()
	defer source.mu.Unlock()
	for i := range source.records {
		if source.records[i].ID == record.ID {
			source.records[i] = merged(source.records[i], record)
			return
		}
	}
	source.records = append(source.records, record)
}

// Push stores the update and announces it on the push channel.
func (source *MockSource) Push(record domain.NodeRecord) {
	source.Upsert(record)
	source.pushes <- record
}

func (source *MockSource) Listen(ctx context.Context, events chan<- PushEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record := <-source.pushes:
			select {
			case events <- PushEvent{Record: record, Received: time.Now(), Origin: "mock"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (source *MockSource) Join(ctx context.Context, id domain.NodeID) error {
	source.mu.Lock()
	source.groups[id] = true
	source.mu.Unlock()
	return nil
}

func (source *MockSource) Leave(ctx context.Context, id domain.NodeID) error {
	source.mu.Lock()
	delete(source.groups, id)
	source.mu.Unlock()
	return nil
}

func (source *MockSource) Joined(id domain.NodeID) bool {
	source.mu.Lock()
	defer source.mu.Unlock()
	return source.groups[id]
}

// Simulate flips the status of a random node every interval and pushes the
// change. It backs the -demo mode.
func (source *MockSource) Simulate(ctx context.Context, interval time.Duration, rng *rand.Rand) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		source.mu.Lock()
		if len(source.records) == 0 {
			source.mu.Unlock()
			continue
		}
		target := source.records[rng.IntN(len(source.records))]
		source.mu.Unlock()
		status := domain.Status(rng.IntN(3))
		if status == target.Status {
			status = (status + 1) % 3
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			source.Push(domain.StatusUpdate(target.ID, status))
		}
	}
}

func merged(current, update domain.NodeRecord) domain.NodeRecord {
	node := current.Node()
	update.Apply(node)
	out := domain.NewRecord(node.ID, node.ParentID, node.Label, node.Status).WithRevision(node.Revision)
	if update.Has(domain.FieldHasChildren) || current.Has(domain.FieldHasChildren) {
		out = out.WithHasChildren(node.HasChildren)
	}
	return out
}

// DemoRecords builds a small multi-level forest for the -demo mode.
func DemoRecords() []domain.NodeRecord {
	var records []domain.NodeRecord
	sites := []string{"Plant North", "Plant South", "Warehouse"}
	for i, site := range sites {
		siteID := domain.NodeID(fmt.Sprintf("%d", i+1))
		records = append(records, domain.NewRecord(siteID, domain.RootID, site, domain.StatusIdle))
		for j := 1; j <= 3; j++ {
			lineID := domain.NodeID(fmt.Sprintf("%d%d", i+1, j))
			records = append(records, domain.NewRecord(lineID, siteID, fmt.Sprintf("%s line %d", site, j), domain.StatusInactive))
			for k := 1; k <= 2; k++ {
				machineID := domain.NodeID(fmt.Sprintf("%d%d%d", i+1, j, k))
				records = append(records, domain.NewRecord(machineID, lineID, fmt.Sprintf("Machine %d.%d.%d", i+1, j, k), domain.StatusActive))
			}
		}
	}
	return records
}
