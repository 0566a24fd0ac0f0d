// Package engine keeps the node forest in sync with a remote source. It runs
// the periodic top-level refresh, lazy child fetches and push ingestion, and
// publishes an immutable Snapshot to observers after every applied change.
//
// Every write is stamped from a logical clock when it is issued: a poll or a
// child fetch when the request goes out, a push event when it arrives. The
// tree rejects writes older than what a node already holds, so a slow poll
// cannot revert a newer push.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"navsync/internal/cache"
	"navsync/internal/domain"
	"navsync/internal/services"
	"navsync/internal/tree"
)

var (
	ErrStopped = errors.New("engine stopped")

	errPushClosed = errors.New("push channel closed")
)

type Options struct {
	PollInterval      time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// SweepEvery runs a cache sweep after this many polls; zero disables it.
	SweepEvery      int
	CacheMaxEntries int
}

func DefaultOptions() Options {
	return Options{
		PollInterval:      5 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		SweepEvery:        12,
		CacheMaxEntries:   1024,
	}
}

// Snapshot is an immutable view of the engine state. Statuses maps every node
// id currently in the forest to the last status applied for it.
type Snapshot struct {
	Forest   *tree.Forest
	Statuses map[domain.NodeID]domain.Status
	Stamp    uint64
}

type Engine struct {
	source  services.Source
	push    services.PushChannel
	cache   *cache.Cache
	options Options
	logger  zerolog.Logger

	mu        sync.Mutex
	forest    *tree.Forest
	statuses  map[domain.NodeID]domain.Status
	clock     uint64
	stamp     uint64
	stopped   bool
	lastErr   error
	active    domain.NodeID
	observers map[int]func(Snapshot)
	observerN int
	cancel    context.CancelFunc
	group     *errgroup.Group

	fetches singleflight.Group
}

// New wires an engine. push and store may be nil.
func New(source services.Source, push services.PushChannel, store *cache.Cache, options Options, logger zerolog.Logger) *Engine {
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultOptions().PollInterval
	}
	if options.ReconnectDelay <= 0 {
		options.ReconnectDelay = DefaultOptions().ReconnectDelay
	}
	if options.MaxReconnectDelay < options.ReconnectDelay {
		options.MaxReconnectDelay = options.ReconnectDelay
	}
	return &Engine{
		source:    source,
		push:      push,
		cache:     store,
		options:   options,
		logger:    logger.With().Str("component", "engine").Logger(),
		forest:    tree.Empty(),
		statuses:  map[domain.NodeID]domain.Status{},
		observers: map[int]func(Snapshot){},
	}
}

func (engine *Engine) Snapshot() Snapshot {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.snapshotLocked()
}

func (engine *Engine) snapshotLocked() Snapshot {
	return Snapshot{Forest: engine.forest, Statuses: engine.statuses, Stamp: engine.stamp}
}

// Subscribe registers fn for every applied change. fn runs outside the engine
// lock on the goroutine that applied the change.
func (engine *Engine) Subscribe(fn func(Snapshot)) (cancel func()) {
	engine.mu.Lock()
	id := engine.observerN
	engine.observerN++
	engine.observers[id] = fn
	engine.mu.Unlock()
	return func() {
		engine.mu.Lock()
		delete(engine.observers, id)
		engine.mu.Unlock()
	}
}

// LastError is the most recent read failure, cleared by the next successful
// top-level refresh.
func (engine *Engine) LastError() error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.lastErr
}

func (engine *Engine) issue() uint64 {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.clock++
	return engine.clock
}

// RefreshTopLevel renders the cached listing optimistically, then applies the
// authoritative listing. On failure the last good forest is kept.
func (engine *Engine) RefreshTopLevel(ctx context.Context) error {
	if engine.cache != nil {
		if cached, ok := engine.cache.Records(cache.TopLevelKey); ok {
			engine.apply(func(forest *tree.Forest) *tree.Forest {
				return tree.Reconcile(forest, cached, 0)
			}, recordIDs(cached))
		}
	}

	stamp := engine.issue()
	records, err := engine.source.TopLevel(ctx)
	if err != nil {
		engine.fail(err, "top-level refresh failed")
		return fmt.Errorf("refresh top level: %w", err)
	}
	if err := engine.apply(func(forest *tree.Forest) *tree.Forest {
		return tree.Reconcile(forest, records, stamp)
	}, recordIDs(records)); err != nil {
		return err
	}
	engine.mu.Lock()
	engine.lastErr = nil
	engine.mu.Unlock()
	engine.store(cache.TopLevelKey, records)
	return nil
}

// FetchChildren loads the children of id. Concurrent calls for the same id
// share one request.
func (engine *Engine) FetchChildren(ctx context.Context, id domain.NodeID) error {
	_, err, _ := engine.fetches.Do(id.String(), func() (any, error) {
		return nil, engine.fetchChildren(ctx, id)
	})
	return err
}

func (engine *Engine) fetchChildren(ctx context.Context, id domain.NodeID) error {
	key := cache.ChildrenKey(id)
	if engine.cache != nil {
		if cached, ok := engine.cache.Records(key); ok {
			engine.apply(func(forest *tree.Forest) *tree.Forest {
				next, _ := tree.Attach(forest, id, cached, 0)
				return next
			}, recordIDs(cached))
		}
	}

	stamp := engine.issue()
	records, err := engine.source.Children(ctx, id)
	if err != nil {
		engine.fail(err, "child fetch failed")
		return fmt.Errorf("fetch children of %s: %w", id, err)
	}
	if err := engine.apply(func(forest *tree.Forest) *tree.Forest {
		next, _ := tree.Attach(forest, id, records, stamp)
		return next
	}, recordIDs(records)); err != nil {
		return err
	}
	engine.store(key, records)
	return nil
}

// OnPushEvent merges one pushed node. Delivering the same event twice leaves
// the same forest.
func (engine *Engine) OnPushEvent(record domain.NodeRecord) error {
	if err := record.Validate(); err != nil {
		engine.logger.Warn().Err(err).Msg("ignoring invalid push event")
		return err
	}
	stamp := engine.issue()
	return engine.apply(func(forest *tree.Forest) *tree.Forest {
		next, ok := tree.Merge(forest, record, stamp)
		if !ok {
			engine.logger.Debug().Str("id", record.ID.String()).Msg("push event changed nothing")
		}
		return next
	}, []domain.NodeID{record.ID})
}

// apply swaps in the forest produced by update and notifies observers. The
// update always sees the latest forest because it runs under the lock.
func (engine *Engine) apply(update func(*tree.Forest) *tree.Forest, touched []domain.NodeID) error {
	engine.mu.Lock()
	if engine.stopped {
		engine.mu.Unlock()
		return ErrStopped
	}
	next := update(engine.forest)
	if next == engine.forest {
		engine.mu.Unlock()
		return nil
	}
	engine.forest = next
	engine.statuses = nextStatuses(engine.statuses, next, touched)
	engine.stamp++
	snapshot := engine.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(engine.observers))
	for _, fn := range engine.observers {
		observers = append(observers, fn)
	}
	engine.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
	return nil
}

func nextStatuses(previous map[domain.NodeID]domain.Status, forest *tree.Forest, touched []domain.NodeID) map[domain.NodeID]domain.Status {
	out := make(map[domain.NodeID]domain.Status, forest.Len())
	for id, status := range previous {
		if _, ok := forest.Find(id); ok {
			out[id] = status
		}
	}
	for _, id := range touched {
		if node, ok := forest.Find(id); ok {
			out[id] = node.Status
		}
	}
	return out
}

func (engine *Engine) fail(err error, msg string) {
	if errors.Is(err, context.Canceled) {
		return
	}
	engine.logger.Warn().Err(err).Msg(msg)
	engine.mu.Lock()
	engine.lastErr = err
	engine.mu.Unlock()
}

func (engine *Engine) store(key string, records []domain.NodeRecord) {
	if engine.cache == nil {
		return
	}
	if err := engine.cache.SetRecords(key, records); err != nil {
		engine.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// SetActive moves the push subscription to the group of id when the push
// channel supports groups.
func (engine *Engine) SetActive(ctx context.Context, id domain.NodeID) error {
	engine.mu.Lock()
	previous := engine.active
	engine.active = id
	engine.mu.Unlock()
	if previous == id {
		return nil
	}
	groups, ok := engine.push.(services.GroupSubscriber)
	if !ok {
		return nil
	}
	if !previous.IsRoot() {
		if err := groups.Leave(ctx, previous); err != nil {
			engine.logger.Warn().Err(err).Str("id", previous.String()).Msg("leave group failed")
		}
	}
	if id.IsRoot() {
		return nil
	}
	if err := groups.Join(ctx, id); err != nil {
		engine.logger.Warn().Err(err).Str("id", id.String()).Msg("join group failed")
		return err
	}
	return nil
}

// Start runs the poller, the push listener and the cache sweep until Stop is
// called or ctx ends.
func (engine *Engine) Start(ctx context.Context) error {
	engine.mu.Lock()
	if engine.stopped {
		engine.mu.Unlock()
		return ErrStopped
	}
	if engine.group != nil {
		engine.mu.Unlock()
		return errors.New("engine already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	engine.cancel = cancel
	engine.group = group
	engine.mu.Unlock()

	group.Go(func() error {
		return engine.poll(gctx)
	})
	if engine.push != nil {
		events := make(chan services.PushEvent, 64)
		group.Go(func() error {
			return engine.listen(gctx, events)
		})
		group.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case event := <-events:
					engine.OnPushEvent(event.Record)
				}
			}
		})
	}
	engine.logger.Info().Dur("poll", engine.options.PollInterval).Bool("push", engine.push != nil).Msg("engine started")
	return nil
}

// Stop cancels background work and waits for it. Results of requests still in
// flight are discarded.
func (engine *Engine) Stop() error {
	engine.mu.Lock()
	engine.stopped = true
	cancel, group := engine.cancel, engine.group
	engine.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	engine.logger.Info().Msg("engine stopped")
	return nil
}

func (engine *Engine) poll(ctx context.Context) error {
	ticker := time.NewTicker(engine.options.PollInterval)
	defer ticker.Stop()
	polls := 0
	for {
		if err := engine.RefreshTopLevel(ctx); errors.Is(err, ErrStopped) {
			return nil
		}
		polls++
		if engine.cache != nil && engine.options.SweepEvery > 0 && polls%engine.options.SweepEvery == 0 {
			if _, err := engine.cache.Sweep(ctx, engine.options.CacheMaxEntries); err != nil {
				engine.logger.Warn().Err(err).Msg("cache sweep failed")
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// listen keeps the push channel connected, backing off exponentially between
// attempts. A push failure never stops polling.
func (engine *Engine) listen(ctx context.Context, events chan<- services.PushEvent) error {
	err := retry.Do(
		func() error {
			err := engine.push.Listen(ctx, events)
			if err == nil && ctx.Err() == nil {
				// a listener that returns while we still want events has disconnected
				return errPushClosed
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(engine.options.ReconnectDelay),
		retry.MaxDelay(engine.options.MaxReconnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			if ctx.Err() != nil {
				return
			}
			engine.logger.Warn().Err(err).Uint("attempt", attempt+1).Msg("push channel lost, reconnecting")
		}),
	)
	if err != nil && ctx.Err() == nil {
		engine.logger.Error().Err(err).Msg("push channel gave up")
	}
	return nil
}

func recordIDs(records []domain.NodeRecord) []domain.NodeID {
	out := make([]domain.NodeID, 0, len(records))
	for _, record := range records {
		out = append(out, record.ID)
	}
	return out
}
