package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

const fileFixture = `[
	{"id":1,"parentId":null,"label":"Root","status":"idle"},
	{"id":2,"parentId":1,"label":"Child","status":"idle"},
	{"id":3,"parentId":2,"label":"Grandchild","status":"active"}
]`

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	assert.Equal(t, nil, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileSourceReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	writeFixture(t, path, fileFixture)
	source := NewFileSource(path, zerolog.Nop())

	top, err := source.TopLevel(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, []domain.NodeRecord{
		domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle).WithHasChildren(true),
	}, top)

	children, err := source.Children(context.Background(), "2")
	assert.Equal(t, nil, err)
	assert.Equal(t, []domain.NodeRecord{
		domain.NewRecord("3", "2", "Grandchild", domain.StatusActive).WithHasChildren(false),
	}, children)

	_, err = source.Children(context.Background(), "99")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestFileSourceMissingFile(t *testing.T) {
	source := NewFileSource(filepath.Join(t.TempDir(), "absent.json"), zerolog.Nop())
	_, err := source.TopLevel(context.Background())
	assert.Equal(t, true, errors.Is(err, ErrUnavailable))
}

func TestFileWatchEmitsChangedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	writeFixture(t, path, fileFixture)
	source := NewFileSource(path, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan PushEvent, 8)
	go source.Watch().Listen(ctx, events)

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)
	writeFixture(t, path, `[
		{"id":1,"parentId":null,"label":"Root","status":"idle"},
		{"id":2,"parentId":1,"label":"Child","status":"active"},
		{"id":3,"parentId":2,"label":"Grandchild","status":"active"}
	]`)

	select {
	case event := <-events:
		assert.Equal(t, domain.NodeID("2"), event.Record.ID)
		assert.Equal(t, domain.StatusActive, event.Record.Status)
		assert.Equal(t, "file", event.Origin)
	case <-time.After(3 * time.Second):
		t.Fatal("no event after editing the file")
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected extra event for %s", event.Record.ID)
	case <-time.After(300 * time.Millisecond):
	}
}
