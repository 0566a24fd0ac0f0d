package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

const (
	DefaultNodesTable    = "nodes"
	DefaultNotifyChannel = "node_changed"
)

// PostgresSource reads nodes from a table and receives changes through
// LISTEN/NOTIFY. Notification payloads are JSON node records.
type PostgresSource struct {
	db      *pgxpool.Pool
	table   string
	channel string
	logger  zerolog.Logger
}

func NewPostgresSource(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresSource, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping db: %v", ErrUnavailable, err)
	}
	return &PostgresSource{
		db:      pool,
		table:   DefaultNodesTable,
		channel: DefaultNotifyChannel,
		logger:  logger.With().Str("component", "postgres-source").Logger(),
	}, nil
}

// WithTable switches the nodes table and notification channel, mostly so
// tests can use a private schema.
func (source *PostgresSource) WithTable(table, channel string) *PostgresSource {
	source.table = table
	source.channel = channel
	return source
}

func (source *PostgresSource) EnsureSchema(ctx context.Context) error {
	table := pgx.Identifier{source.table}.Sanitize()
	_, err := source.db.Exec(ctx, `
	create table if not exists `+table+` (
		id text primary key,
		parent_id text null,
		label text not null,
		status text not null default 'idle',
		version bigint not null default 0,
		position integer not null default 0
	)`)
	if err != nil {
		return fmt.Errorf("failed to create nodes table: %w", err)
	}
	return nil
}

func (source *PostgresSource) TopLevel(ctx context.Context) ([]domain.NodeRecord, error) {
	return source.query(ctx, squirrel.Eq{"n.parent_id": nil})
}

func (source *PostgresSource) Children(ctx context.Context, id domain.NodeID) ([]domain.NodeRecord, error) {
	var exists bool
	err := source.db.QueryRow(ctx,
		`select exists (select 1 from `+pgx.Identifier{source.table}.Sanitize()+` where id = $1)`, id.String(),
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return source.query(ctx, squirrel.Eq{"n.parent_id": id.String()})
}

func (source *PostgresSource) query(ctx context.Context, where squirrel.Sqlizer) ([]domain.NodeRecord, error) {
	table := pgx.Identifier{source.table}.Sanitize()
	sql, args, err := squirrel.
		Select(
			"n.id", "n.parent_id", "n.label", "n.status", "n.version",
			"exists (select 1 from "+table+" c where c.parent_id = n.id) as has_children",
		).
		From(table + " n").
		Where(where).
		OrderBy("n.position", "n.id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := source.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []domain.NodeRecord
	for rows.Next() {
		var (
			id, label, status string
			parent            *string
			version           int64
			hasChildren       bool
		)
		if err := rows.Scan(&id, &parent, &label, &status, &version, &hasChildren); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		parsed, err := domain.ParseStatus(status)
		if err != nil {
			source.logger.Warn().Err(err).Str("id", id).Msg("unknown status, treating as idle")
		}
		parentID := domain.RootID
		if parent != nil {
			parentID = domain.NodeID(*parent)
		}
		record := domain.NewRecord(domain.NodeID(id), parentID, label, parsed).WithHasChildren(hasChildren)
		if version > 0 {
			record = record.WithRevision(uint64(version))
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return validRecords(records, source.logger), nil
}

// Upsert writes a node, bumps its version and notifies listeners in one
// transaction.
func (source *PostgresSource) Upsert(ctx context.Context, record domain.NodeRecord) error {
	table := pgx.Identifier{source.table}.Sanitize()
	var parent *string
	if !record.ParentID.IsRoot() {
		value := record.ParentID.String()
		parent = &value
	}
	sql, args, err := squirrel.
		Insert(table).
		Columns("id", "parent_id", "label", "status", "version").
		Values(record.ID.String(), parent, record.Label, record.Status.String(), 1).
		Suffix("on conflict (id) do update set parent_id = excluded.parent_id, label = excluded.label, " +
			"status = excluded.status, version = " + table + ".version + 1 returning version").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	return pgx.BeginFunc(ctx, source.db, func(tx pgx.Tx) error {
		var version int64
		if err := tx.QueryRow(ctx, sql, args...).Scan(&version); err != nil {
			return fmt.Errorf("failed to upsert node: %w", err)
		}
		payload, err := json.Marshal(record.WithRevision(uint64(version)))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `select pg_notify($1, $2)`, source.channel, string(payload))
		return err
	})
}

func (source *PostgresSource) Watch() PushChannel {
	return &postgresListener{source: source}
}

func (source *PostgresSource) Close() error {
	source.db.Close()
	return nil
}

type postgresListener struct {
	source *PostgresSource
}

func (listener *postgresListener) Listen(ctx context.Context, events chan<- PushEvent) error {
	source := listener.source
	conn, err := source.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire listen connection: %v", ErrUnavailable, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{source.channel}.Sanitize()); err != nil {
		return fmt.Errorf("%w: listen: %v", ErrUnavailable, err)
	}
	source.logger.Info().Str("channel", source.channel).Msg("listening for node changes")
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("%w: wait for notification: %v", ErrUnavailable, err)
		}
		var record domain.NodeRecord
		if err := json.Unmarshal([]byte(notification.Payload), &record); err != nil {
			source.logger.Warn().Err(err).Msg("dropping notification")
			continue
		}
		if err := record.Validate(); err != nil {
			source.logger.Warn().Err(err).Msg("dropping notification")
			continue
		}
		select {
		case events <- PushEvent{Record: record, Received: time.Now(), Origin: "postgres"}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
