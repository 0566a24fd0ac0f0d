package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"navsync/internal/domain"
)

func TestMockSourceServesAndCounts(t *testing.T) {
	source := NewMockSource(
		domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle),
		domain.NewRecord("2", "1", "Child", domain.StatusIdle),
	)
	top, err := source.TopLevel(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(top))
	assert.Equal(t, true, top[0].HasChildren)

	children, err := source.Children(context.Background(), "1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(children))
	assert.Equal(t, false, children[0].HasChildren)

	assert.Equal(t, 1, source.Calls(domain.RootID))
	assert.Equal(t, 1, source.Calls("1"))
}

func TestMockSourceFailures(t *testing.T) {
	source := NewMockSource(domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle))
	boom := errors.New("boom")
	source.Fail(domain.RootID, boom)
	_, err := source.TopLevel(context.Background())
	assert.Equal(t, boom, err)

	source.Fail(domain.RootID, nil)
	_, err = source.TopLevel(context.Background())
	assert.Equal(t, nil, err)

	_, err = source.Children(context.Background(), "404")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestMockSourceDelayHonoursContext(t *testing.T) {
	source := NewMockSource()
	source.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := source.TopLevel(ctx)
	assert.Equal(t, true, errors.Is(err, context.DeadlineExceeded))
}

func TestMockSourcePushMergesPartialUpdate(t *testing.T) {
	source := NewMockSource(domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan PushEvent, 1)
	go source.Listen(ctx, events)

	source.Push(domain.StatusUpdate("1", domain.StatusActive))
	select {
	case event := <-events:
		assert.Equal(t, domain.StatusUpdate("1", domain.StatusActive), event.Record)
	case <-time.After(time.Second):
		t.Fatal("no push event")
	}

	top, err := source.TopLevel(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, "Root", top[0].Label)
	assert.Equal(t, domain.StatusActive, top[0].Status)
}

func TestDemoRecordsFormTree(t *testing.T) {
	records := DemoRecords()
	source := NewMockSource(records...)
	top, err := source.TopLevel(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(top))
	lines, err := source.Children(context.Background(), top[0].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(lines))
}
