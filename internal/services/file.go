package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

const fileDebounce = 150 * time.Millisecond

// FileSource serves a JSON document holding the whole flat node list. Its
// watcher turns edits of the file into push events for the records that
// changed.
type FileSource struct {
	path   string
	logger zerolog.Logger
}

func NewFileSource(path string, logger zerolog.Logger) *FileSource {
	return &FileSource{
		path:   path,
		logger: logger.With().Str("component", "file-source").Str("path", path).Logger(),
	}
}

func (source *FileSource) TopLevel(ctx context.Context) ([]domain.NodeRecord, error) {
	return source.filter(ctx, domain.RootID)
}

func (source *FileSource) Children(ctx context.Context, id domain.NodeID) ([]domain.NodeRecord, error) {
	return source.filter(ctx, id)
}

func (source *FileSource) filter(ctx context.Context, parent domain.NodeID) ([]domain.NodeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := source.read()
	if err != nil {
		return nil, err
	}
	out, ok := selectChildren(records, parent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parent)
	}
	return out, nil
}

// selectChildren returns the records directly under parent with HasChildren
// filled in. ok is false when parent is not part of records.
func selectChildren(records []domain.NodeRecord, parent domain.NodeID) ([]domain.NodeRecord, bool) {
	known := parent.IsRoot()
	childCount := make(map[domain.NodeID]int, len(records))
	for _, record := range records {
		childCount[record.ParentID]++
		if record.ID == parent {
			known = true
		}
	}
	if !known {
		return nil, false
	}
	out := make([]domain.NodeRecord, 0, childCount[parent])
	for _, record := range records {
		if record.ParentID == parent {
			out = append(out, record.WithHasChildren(childCount[record.ID] > 0))
		}
	}
	return out, true
}

func (source *FileSource) read() ([]domain.NodeRecord, error) {
	data, err := os.ReadFile(source.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeRecords(data, source.logger)
}

func (source *FileSource) Watch() PushChannel {
	return &fileWatch{source: source}
}

type fileWatch struct {
	source *FileSource

	mu       sync.Mutex
	previous map[domain.NodeID]domain.NodeRecord
}

// Listen watches the parent directory so editors that replace the file by
// rename are still observed.
func (watch *fileWatch) Listen(ctx context.Context, events chan<- PushEvent) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(watch.source.path)); err != nil {
		return fmt.Errorf("watch %s: %w", watch.source.path, err)
	}
	watch.mu.Lock()
	if watch.previous == nil {
		if records, err := watch.source.read(); err == nil {
			watch.previous = index(records)
		}
	}
	watch.mu.Unlock()

	target := filepath.Base(watch.source.path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("%w: file watcher closed", ErrUnavailable)
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(fileDebounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("%w: file watcher closed", ErrUnavailable)
			}
			watch.source.logger.Warn().Err(err).Msg("file watcher error")
		case <-debounce:
			debounce = nil
			for _, record := range watch.changed() {
				select {
				case events <- PushEvent{Record: record, Received: time.Now(), Origin: "file"}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// changed re-reads the file and returns new or modified records. Removals are
// left to the next authoritative listing.
func (watch *fileWatch) changed() []domain.NodeRecord {
	records, err := watch.source.read()
	if err != nil {
		watch.source.logger.Debug().Err(err).Msg("re-read after change failed")
		return nil
	}
	watch.mu.Lock()
	defer watch.mu.Unlock()
	var out []domain.NodeRecord
	for _, record := range records {
		if previous, ok := watch.previous[record.ID]; !ok || previous != record {
			out = append(out, record)
		}
	}
	watch.previous = index(records)
	return out
}

func index(records []domain.NodeRecord) map[domain.NodeID]domain.NodeRecord {
	out := make(map[domain.NodeID]domain.NodeRecord, len(records))
	for _, record := range records {
		out[record.ID] = record
	}
	return out
}
