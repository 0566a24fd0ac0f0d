package navigator

import (
	"context"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
	"navsync/internal/engine"
	"navsync/internal/notify"
	"navsync/internal/services"
)

// scriptedSource serves a fixed top-level listing and fixed children.
type scriptedSource struct {
	mu       sync.Mutex
	top      []domain.NodeRecord
	children map[domain.NodeID][]domain.NodeRecord
	fetched  []domain.NodeID
}

func (source *scriptedSource) TopLevel(ctx context.Context) ([]domain.NodeRecord, error) {
	return source.top, nil
}

func (source *scriptedSource) Children(ctx context.Context, id domain.NodeID) ([]domain.NodeRecord, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.fetched = append(source.fetched, id)
	return source.children[id], nil
}

func TestToggleLoadsChildrenAndNotifies(t *testing.T) {
	toggleExample(t, domain.NewRecord("2", "1", "Child", domain.StatusActive))
}

func TestToggleLoadsDeclaredLeafChild(t *testing.T) {
	toggleExample(t, domain.NewRecord("2", "1", "Child", domain.StatusActive).WithHasChildren(false))
}

// toggleExample expands the root of a two-node tree whose child comes back
// active, and checks the attached child and the resulting notification.
func toggleExample(t *testing.T, child domain.NodeRecord) {
	t.Helper()
	source := &scriptedSource{
		top: []domain.NodeRecord{
			domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle),
			domain.NewRecord("2", "1", "Child", domain.StatusIdle),
		},
		children: map[domain.NodeID][]domain.NodeRecord{
			"1": {child},
		},
	}
	syncEngine := engine.New(source, nil, nil, engine.DefaultOptions(), zerolog.Nop())
	navigator := New(syncEngine, notify.NewCenter(notify.DefaultTTL, zerolog.Nop()), zerolog.Nop())
	changes := 0
	navigator.OnChange(func() { changes++ })

	ctx := context.Background()
	assert.Equal(t, nil, navigator.Refresh(ctx))
	forest := navigator.Forest()
	assert.Equal(t, []domain.NodeID{"1"}, forest.RootIDs())
	root, _ := forest.Find("1")
	assert.Equal(t, []domain.NodeID{"2"}, root.ChildIDs)
	assert.Equal(t, 0, len(navigator.View().Notifications))

	assert.Equal(t, nil, navigator.Toggle(ctx, "1"))
	assert.Equal(t, []domain.NodeID{"1"}, source.fetched)

	view := navigator.View()
	attached, _ := navigator.Forest().Find("2")
	assert.Equal(t, domain.StatusActive, attached.Status)
	assert.Equal(t, true, attached.ChildrenLoaded)
	assert.Equal(t, false, attached.HasChildren)
	assert.Equal(t, true, navigator.VisibleIDs()["2"])

	assert.Equal(t, 1, len(view.Notifications))
	assert.Equal(t, "Child changed from idle to active", view.Notifications[0].Message())
	assert.Equal(t, notify.DefaultTTL, view.Notifications[0].Remaining)
	assert.Equal(t, domain.NodeID("1"), view.Active.ID)
	assert.Equal(t, 1, len(view.ActiveChildren))
	assert.Equal(t, true, changes >= 3)

	for i := 0; i < 30; i++ {
		navigator.Tick()
	}
	assert.Equal(t, 0, len(navigator.View().Notifications))
}

func TestHiddenChangeDoesNotNotify(t *testing.T) {
	source := services.NewMockSource(
		domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle),
		domain.NewRecord("2", "1", "Child", domain.StatusIdle),
	)
	syncEngine := engine.New(source, source, nil, engine.DefaultOptions(), zerolog.Nop())
	navigator := New(syncEngine, notify.NewCenter(notify.DefaultTTL, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, nil, navigator.Refresh(ctx))
	assert.Equal(t, nil, navigator.Toggle(ctx, "1"))
	// collapse again so the child is hidden
	assert.Equal(t, nil, navigator.Toggle(ctx, "1"))
	assert.Equal(t, false, navigator.VisibleIDs()["2"])

	assert.Equal(t, nil, syncEngine.OnPushEvent(domain.StatusUpdate("2", domain.StatusActive)))
	assert.Equal(t, 0, len(navigator.View().Notifications))

	assert.Equal(t, nil, syncEngine.OnPushEvent(domain.StatusUpdate("1", domain.StatusInactive)))
	entries := navigator.View().Notifications
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, "Root changed from idle to inactive", entries[0].Message())

	navigator.ClearNotifications()
	assert.Equal(t, 0, len(navigator.View().Notifications))
	assert.Equal(t, domain.StatusInactive, navigator.View().Statuses["1"])
}

func TestToggleFollowsActiveGroup(t *testing.T) {
	source := services.NewMockSource(
		domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle),
		domain.NewRecord("3", domain.RootID, "Other", domain.StatusIdle),
	)
	syncEngine := engine.New(source, source, nil, engine.DefaultOptions(), zerolog.Nop())
	navigator := New(syncEngine, notify.NewCenter(notify.DefaultTTL, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()
	assert.Equal(t, nil, navigator.Refresh(ctx))

	navigator.MoveCursor(1)
	assert.Equal(t, nil, navigator.ToggleCurrent(ctx))
	assert.Equal(t, true, source.Joined("3"))
	// a declared leaf is activated without a fetch
	assert.Equal(t, 0, source.Calls("3"))
	assert.Equal(t, false, navigator.View().Expanded["3"])

	assert.Equal(t, nil, navigator.ReloadActive(ctx))
	assert.Equal(t, 1, source.Calls("3"))
	assert.Equal(t, nil, navigator.Stop())
}
