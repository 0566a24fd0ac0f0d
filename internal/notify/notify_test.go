package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
	"navsync/internal/tree"
)

func forest() *tree.Forest {
	return tree.Build([]domain.NodeRecord{
		domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle),
		domain.NewRecord("2", "1", "Child", domain.StatusIdle),
	})
}

type statuses = map[domain.NodeID]domain.Status

func TestFirstObservationIsSilent(t *testing.T) {
	center := NewCenter(DefaultTTL, zerolog.Nop())
	created := center.Observe(statuses{}, statuses{"1": domain.StatusActive}, map[domain.NodeID]bool{"1": true}, forest())
	assert.Equal(t, 0, len(created))
	assert.Equal(t, 0, len(center.Entries()))
}

func TestChangeOfVisibleNodeNotifies(t *testing.T) {
	center := NewCenter(DefaultTTL, zerolog.Nop())
	created := center.Observe(
		statuses{"1": domain.StatusIdle, "2": domain.StatusIdle},
		statuses{"1": domain.StatusIdle, "2": domain.StatusActive},
		map[domain.NodeID]bool{"1": true, "2": true},
		forest(),
	)
	assert.Equal(t, 1, len(created))
	assert.Equal(t, "Child changed from idle to active", created[0].Message())
	assert.Equal(t, domain.NodeID("2"), created[0].NodeID)
	assert.Equal(t, 30*time.Second, created[0].Remaining)
	assert.Equal(t, 1, len(center.Entries()))
}

func TestHiddenOrUnchangedNodesAreSilent(t *testing.T) {
	center := NewCenter(DefaultTTL, zerolog.Nop())
	created := center.Observe(
		statuses{"1": domain.StatusIdle, "2": domain.StatusIdle},
		statuses{"1": domain.StatusIdle, "2": domain.StatusActive},
		map[domain.NodeID]bool{"1": true},
		forest(),
	)
	assert.Equal(t, 0, len(created))
}

func TestLabelFallsBackToID(t *testing.T) {
	center := NewCenter(DefaultTTL, zerolog.Nop())
	created := center.Observe(
		statuses{"9": domain.StatusActive},
		statuses{"9": domain.StatusInactive},
		map[domain.NodeID]bool{"9": true},
		forest(),
	)
	assert.Equal(t, 1, len(created))
	assert.Equal(t, "9 changed from active to inactive", created[0].Message())
}

func TestEntriesExpireIndependently(t *testing.T) {
	center := NewCenter(3*time.Second, zerolog.Nop())
	visible := map[domain.NodeID]bool{"1": true, "2": true}
	center.Observe(statuses{"1": domain.StatusIdle}, statuses{"1": domain.StatusActive}, visible, forest())
	assert.Equal(t, 0, center.Tick())

	center.Observe(statuses{"2": domain.StatusIdle}, statuses{"2": domain.StatusActive}, visible, forest())
	assert.Equal(t, 0, center.Tick())
	assert.Equal(t, 1, center.Tick())

	left := center.Entries()
	assert.Equal(t, 1, len(left))
	assert.Equal(t, domain.NodeID("2"), left[0].NodeID)
	assert.Equal(t, time.Second, left[0].Remaining)

	assert.Equal(t, 1, center.Tick())
	assert.Equal(t, 0, len(center.Entries()))
}

func TestClearEmptiesList(t *testing.T) {
	center := NewCenter(DefaultTTL, zerolog.Nop())
	previous := statuses{"1": domain.StatusIdle}
	next := statuses{"1": domain.StatusActive}
	center.Observe(previous, next, map[domain.NodeID]bool{"1": true}, forest())
	center.Clear()
	assert.Equal(t, 0, len(center.Entries()))
	assert.Equal(t, domain.StatusIdle, previous["1"])
	assert.Equal(t, domain.StatusActive, next["1"])
}

func TestRunStopsWithContext(t *testing.T) {
	center := NewCenter(DefaultTTL, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, center.Run(ctx, nil))
}
