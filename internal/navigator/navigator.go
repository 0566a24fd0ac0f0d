// Package navigator is the store the presentation layer talks to. It follows
// engine snapshots, keeps the expansion state in step with the forest, feeds
// status changes of visible nodes to the notification center and tells
// listeners when anything they render has changed.
package navigator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"navsync/internal/domain"
	"navsync/internal/engine"
	"navsync/internal/notify"
	"navsync/internal/state"
	"navsync/internal/tree"
)

// View is everything a renderer needs for one frame.
type View struct {
	Rows           []state.VisibleNode
	Cursor         int
	Expanded       map[domain.NodeID]bool
	Active         *domain.Node
	ActiveChildren []*domain.Node
	Statuses       map[domain.NodeID]domain.Status
	Notifications  []notify.Entry
	LastError      error
}

type Navigator struct {
	engine *engine.Engine
	center *notify.Center
	logger zerolog.Logger

	mu        sync.Mutex
	state     *state.State
	snapshot  engine.Snapshot
	listeners []func()

	unsubscribe func()
	cancel      context.CancelFunc
	group       *errgroup.Group
}

func New(syncEngine *engine.Engine, center *notify.Center, logger zerolog.Logger) *Navigator {
	navigator := &Navigator{
		engine:   syncEngine,
		center:   center,
		logger:   logger.With().Str("component", "navigator").Logger(),
		state:    state.NewState(),
		snapshot: syncEngine.Snapshot(),
	}
	navigator.unsubscribe = syncEngine.Subscribe(navigator.onSnapshot)
	return navigator
}

// OnChange registers fn to run after every change to the view. fn must not
// block; the TUI forwards it to its program as a message.
func (navigator *Navigator) OnChange(fn func()) {
	navigator.mu.Lock()
	navigator.listeners = append(navigator.listeners, fn)
	navigator.mu.Unlock()
}

func (navigator *Navigator) onSnapshot(snapshot engine.Snapshot) {
	navigator.mu.Lock()
	// observers run outside the engine lock, so an older snapshot can
	// arrive after a newer one
	if snapshot.Stamp <= navigator.snapshot.Stamp {
		navigator.mu.Unlock()
		return
	}
	previous := navigator.snapshot
	navigator.snapshot = snapshot
	navigator.state.Prune(snapshot.Forest)
	visible := navigator.state.VisibleIDs(snapshot.Forest)
	navigator.mu.Unlock()

	navigator.center.Observe(previous.Statuses, snapshot.Statuses, visible, snapshot.Forest)
	navigator.changed()
}

func (navigator *Navigator) changed() {
	navigator.mu.Lock()
	listeners := append([]func(){}, navigator.listeners...)
	navigator.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (navigator *Navigator) View() View {
	navigator.mu.Lock()
	defer navigator.mu.Unlock()
	forest := navigator.snapshot.Forest
	expanded := make(map[domain.NodeID]bool, len(navigator.state.Expanded))
	for id, open := range navigator.state.Expanded {
		expanded[id] = open
	}
	return View{
		Rows:           navigator.state.VisibleNodes(forest),
		Cursor:         navigator.state.Cursor,
		Expanded:       expanded,
		Active:         navigator.state.ActiveNode(forest),
		ActiveChildren: navigator.state.ActiveChildren(forest),
		Statuses:       navigator.snapshot.Statuses,
		Notifications:  navigator.center.Entries(),
		LastError:      navigator.engine.LastError(),
	}
}

func (navigator *Navigator) Forest() *tree.Forest {
	navigator.mu.Lock()
	defer navigator.mu.Unlock()
	return navigator.snapshot.Forest
}

// VisibleIDs is the set of rendered node ids for the current forest.
func (navigator *Navigator) VisibleIDs() map[domain.NodeID]bool {
	navigator.mu.Lock()
	defer navigator.mu.Unlock()
	return navigator.state.VisibleIDs(navigator.snapshot.Forest)
}

// Toggle opens or closes id, moves the push subscription to it and loads its
// children on first expansion.
func (navigator *Navigator) Toggle(ctx context.Context, id domain.NodeID) error {
	navigator.mu.Lock()
	needFetch := navigator.state.Toggle(navigator.snapshot.Forest, id)
	active := navigator.state.ActiveID
	navigator.mu.Unlock()
	navigator.changed()

	if active == id {
		if err := navigator.engine.SetActive(ctx, id); err != nil {
			navigator.logger.Warn().Err(err).Str("id", id.String()).Msg("could not follow active node")
		}
	}
	if !needFetch {
		return nil
	}
	return navigator.engine.FetchChildren(ctx, id)
}

// ToggleCurrent toggles the node under the cursor.
func (navigator *Navigator) ToggleCurrent(ctx context.Context) error {
	navigator.mu.Lock()
	node := navigator.state.CurrentNode(navigator.snapshot.Forest)
	navigator.mu.Unlock()
	if node == nil {
		return nil
	}
	return navigator.Toggle(ctx, node.ID)
}

func (navigator *Navigator) MoveCursor(delta int) {
	navigator.mu.Lock()
	navigator.state.MoveCursor(navigator.snapshot.Forest, delta)
	navigator.mu.Unlock()
}

func (navigator *Navigator) Refresh(ctx context.Context) error {
	return navigator.engine.RefreshTopLevel(ctx)
}

// ReloadActive fetches the children of the active node again.
func (navigator *Navigator) ReloadActive(ctx context.Context) error {
	navigator.mu.Lock()
	id := navigator.state.ActiveID
	navigator.mu.Unlock()
	if id.IsRoot() {
		return nil
	}
	return navigator.engine.FetchChildren(ctx, id)
}

func (navigator *Navigator) ClearNotifications() {
	navigator.center.Clear()
	navigator.changed()
}

// Tick advances notification countdowns by one second.
func (navigator *Navigator) Tick() {
	if navigator.center.Tick() > 0 {
		navigator.changed()
	}
}

// Start runs the engine and, when tick is set, the notification countdown.
// The TUI drives the countdown itself and passes false.
func (navigator *Navigator) Start(ctx context.Context, tick bool) error {
	if err := navigator.engine.Start(ctx); err != nil {
		return err
	}
	if !tick {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	navigator.mu.Lock()
	navigator.cancel = cancel
	navigator.group = group
	navigator.mu.Unlock()
	group.Go(func() error {
		navigator.center.Run(gctx, navigator.changed)
		return nil
	})
	return nil
}

func (navigator *Navigator) Stop() error {
	navigator.mu.Lock()
	cancel, group := navigator.cancel, navigator.group
	navigator.mu.Unlock()
	if cancel != nil {
		cancel()
		group.Wait()
	}
	navigator.unsubscribe()
	return navigator.engine.Stop()
}
