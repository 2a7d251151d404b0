package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/metrics"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

var _ backend.Backend = (*sqliteBackend)(nil)

// NewInMemoryBackend returns a backend over a private in-memory database.
func NewInMemoryBackend(opts ...option) *sqliteBackend {
	// Every connection to :memory: opens a new database.
	return newSqliteBackend("file::memory:", 1, opts...)
}

func NewSqliteBackend(path string, opts ...option) *sqliteBackend {
	return newSqliteBackend(fmt.Sprintf("file:%v?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path), 0, opts...)
}

func newSqliteBackend(dsn string, maxOpenConns int, opts ...option) *sqliteBackend {
	options := &options{
		Options:         backend.ApplyOptions(),
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	db.SetMaxOpenConns(maxOpenConns)

	b := &sqliteBackend{
		db:      db,
		options: options,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type sqliteBackend struct {
	db      *sql.DB
	options *options
}

// Migrate applies any pending database migrations.
func (sb *sqliteBackend) Migrate() error {
	dbi, err := sqlite.WithInstance(sb.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) Save(ctx context.Context, state *core.WorkflowState) error {
	data, err := backend.Encode(state)
	if err != nil {
		return err
	}

	defer metrics.StartTimer(sb.Metrics(), metrickeys.CheckpointSaveLatency, nil).Stop()

	if err := sb.upsert(ctx, state, data); err != nil {
		return err
	}

	sb.Metrics().Counter(metrickeys.CheckpointSaved, nil, 1)

	return nil
}

func (sb *sqliteBackend) upsert(ctx context.Context, state *core.WorkflowState, data []byte) error {
	var parentID *string
	if state.ParentID != "" {
		parentID = &state.ParentID
	}

	// A single statement commits atomically.
	if _, err := sb.db.ExecContext(
		ctx,
		"INSERT INTO `workflow_states` (id, parent_id, name, status, created_at, checkpoint_at, state) VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET status = excluded.status, checkpoint_at = excluded.checkpoint_at, state = excluded.state",
		state.ID,
		parentID,
		state.Name,
		string(state.Status),
		state.CreatedAt.UTC(),
		state.CheckpointAt.UTC(),
		data,
	); err != nil {
		return fmt.Errorf("storing workflow state: %w", err)
	}

	return nil
}

// WriteRaw stores checkpoint bytes as-is.
func (sb *sqliteBackend) WriteRaw(ctx context.Context, id string, data []byte) error {
	return sb.upsert(ctx, &core.WorkflowState{ID: id, Status: core.WorkflowStatusRunning}, data)
}

func (sb *sqliteBackend) Load(ctx context.Context, id string) (*core.WorkflowState, error) {
	row := sb.db.QueryRowContext(ctx, "SELECT state FROM `workflow_states` WHERE id = ?", id)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &backend.NotFoundError{ID: id}
		}

		return nil, fmt.Errorf("loading workflow state: %w", err)
	}

	state, err := backend.Decode(id, data)
	if err != nil {
		return nil, err
	}

	sb.Metrics().Counter(metrickeys.CheckpointLoaded, nil, 1)

	return state, nil
}

func (sb *sqliteBackend) Delete(ctx context.Context, id string) error {
	prefix := backend.NestedPrefix(id)

	res, err := sb.db.ExecContext(
		ctx,
		"DELETE FROM `workflow_states` WHERE id = ? OR substr(id, 1, ?) = ?",
		id, len(prefix), prefix,
	)
	if err != nil {
		return fmt.Errorf("deleting workflow state: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return &backend.NotFoundError{ID: id}
	}

	return nil
}

func (sb *sqliteBackend) List(ctx context.Context) ([]*core.Summary, error) {
	rows, err := sb.db.QueryContext(ctx, "SELECT id, state FROM `workflow_states` ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing workflow states: %w", err)
	}
	defer rows.Close()

	var summaries []*core.Summary
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning workflow state: %w", err)
		}

		state, err := backend.Decode(id, data)
		if err != nil {
			sb.options.Logger.Warn("skipping unreadable checkpoint", log.RunIDKey, id, "error", err)
			continue
		}

		summaries = append(summaries, state.Summarize())
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	backend.SortSummaries(summaries)

	return summaries, nil
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "sqlite"})
}

func (sb *sqliteBackend) Options() *backend.Options {
	return &sb.options.Options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}
