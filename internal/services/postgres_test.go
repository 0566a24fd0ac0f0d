package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

func openTestPostgres(t *testing.T) *PostgresSource {
	t.Helper()
	dsn := os.Getenv("NAVSYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("NAVSYNC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	source, err := NewPostgresSource(ctx, dsn, zerolog.Nop())
	assert.Equal(t, nil, err)
	suffix := time.Now().UnixNano()
	source.WithTable(fmt.Sprintf("nodes_test_%d", suffix), fmt.Sprintf("node_changed_%d", suffix))
	assert.Equal(t, nil, source.EnsureSchema(ctx))
	t.Cleanup(func() {
		source.db.Exec(context.Background(), "drop table if exists "+source.table)
		source.Close()
	})
	return source
}

func TestPostgresSourceReadsAndNotifies(t *testing.T) {
	source := openTestPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.Equal(t, nil, source.Upsert(ctx, domain.NewRecord("1", domain.RootID, "Root", domain.StatusIdle)))
	assert.Equal(t, nil, source.Upsert(ctx, domain.NewRecord("2", "1", "Child", domain.StatusActive)))

	top, err := source.TopLevel(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(top))
	assert.Equal(t, true, top[0].HasChildren)
	assert.Equal(t, uint64(1), top[0].Revision)

	children, err := source.Children(ctx, "1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(children))
	assert.Equal(t, domain.StatusActive, children[0].Status)

	_, err = source.Children(ctx, "missing")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	events := make(chan PushEvent, 1)
	go source.Watch().Listen(ctx, events)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, nil, source.Upsert(ctx, domain.NewRecord("2", "1", "Child", domain.StatusInactive)))

	select {
	case event := <-events:
		assert.Equal(t, domain.NodeID("2"), event.Record.ID)
		assert.Equal(t, domain.StatusInactive, event.Record.Status)
		assert.Equal(t, uint64(2), event.Record.Revision)
	case <-ctx.Done():
		t.Fatal("no notification received")
	}
}
