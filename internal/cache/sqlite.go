package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const sqliteTable = "cache_entries"

// SQLiteStore keeps entries in a local SQLite file so an optimistic render is
// possible right after a restart.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + sqliteTable + ` (
		key TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (store *SQLiteStore) Load(key string) ([]byte, bool, error) {
	var payload []byte
	err := sq.Select("payload").
		From(sqliteTable).
		Where(sq.Eq{"key": key}).
		RunWith(store.db).
		QueryRow().
		Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (store *SQLiteStore) Save(key string, written time.Time, data []byte) error {
	_, err := sq.Insert(sqliteTable).
		Columns("key", "ts", "payload").
		Values(key, written.UnixMilli(), data).
		Suffix("ON CONFLICT(key) DO UPDATE SET ts = excluded.ts, payload = excluded.payload").
		RunWith(store.db).
		Exec()
	return err
}

func (store *SQLiteStore) Delete(key string) error {
	_, err := sq.Delete(sqliteTable).Where(sq.Eq{"key": key}).RunWith(store.db).Exec()
	return err
}

// Sweep deletes rows written before the cutoff, then the oldest rows beyond
// maxEntries. A maxEntries of zero disables the cap.
func (store *SQLiteStore) Sweep(ctx context.Context, before time.Time, maxEntries int) (int, error) {
	result, err := sq.Delete(sqliteTable).
		Where(sq.Lt{"ts": before.UnixMilli()}).
		RunWith(store.db).
		ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	expired, _ := result.RowsAffected()
	if maxEntries <= 0 {
		return int(expired), nil
	}
	result, err = sq.Delete(sqliteTable).
		Where("key NOT IN (SELECT key FROM "+sqliteTable+" ORDER BY ts DESC LIMIT ?)", maxEntries).
		RunWith(store.db).
		ExecContext(ctx)
	if err != nil {
		return int(expired), err
	}
	capped, _ := result.RowsAffected()
	return int(expired + capped), nil
}

func (store *SQLiteStore) Len() (int, error) {
	var count int
	err := sq.Select("COUNT(*)").From(sqliteTable).RunWith(store.db).QueryRow().Scan(&count)
	return count, err
}

func (store *SQLiteStore) Close() error {
	return store.db.Close()
}
