package mysql

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
	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/trace"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

var _ backend.Backend = (*mysqlBackend)(nil)

func NewMysqlBackend(host string, port int, user, password, database string, opts ...option) *mysqlBackend {
	options := &options{
		Options:         backend.ApplyOptions(),
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true", user, password, host, port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	if options.MySQLOptions != nil {
		options.MySQLOptions(db)
	}

	b := &mysqlBackend{
		dsn:     dsn,
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

type mysqlBackend struct {
	dsn     string
	db      *sql.DB
	options *options
}

// Migrate applies any pending database migrations.
func (b *mysqlBackend) Migrate() error {
	schemaDsn := b.dsn + "&multiStatements=true"
	db, err := sql.Open("mysql", schemaDsn)
	if err != nil {
		return fmt.Errorf("opening schema database: %w", err)
	}

	dbi, err := mysqlmigrate.WithInstance(db, &mysqlmigrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("closing schema database: %w", err)
	}

	return nil
}

func (b *mysqlBackend) Save(ctx context.Context, state *core.WorkflowState) error {
	data, err := backend.Encode(state)
	if err != nil {
		return err
	}

	defer metrics.StartTimer(b.Metrics(), metrickeys.CheckpointSaveLatency, nil).Stop()

	if err := b.upsert(ctx, state, data); err != nil {
		return err
	}

	b.Metrics().Counter(metrickeys.CheckpointSaved, nil, 1)

	return nil
}

func (b *mysqlBackend) upsert(ctx context.Context, state *core.WorkflowState, data []byte) error {
	var parentID *string
	if state.ParentID != "" {
		parentID = &state.ParentID
	}

	if _, err := b.db.ExecContext(
		ctx,
		"INSERT INTO `workflow_states` (id, parent_id, name, status, created_at, checkpoint_at, state) VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE status = VALUES(status), checkpoint_at = VALUES(checkpoint_at), state = VALUES(state)",
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
func (b *mysqlBackend) WriteRaw(ctx context.Context, id string, data []byte) error {
	return b.upsert(ctx, &core.WorkflowState{ID: id, Status: core.WorkflowStatusRunning}, data)
}

func (b *mysqlBackend) Load(ctx context.Context, id string) (*core.WorkflowState, error) {
	row := b.db.QueryRowContext(ctx, "SELECT state FROM `workflow_states` WHERE id = ?", id)

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

	b.Metrics().Counter(metrickeys.CheckpointLoaded, nil, 1)

	return state, nil
}

func (b *mysqlBackend) Delete(ctx context.Context, id string) error {
	prefix := backend.NestedPrefix(id)

	res, err := b.db.ExecContext(
		ctx,
		"DELETE FROM `workflow_states` WHERE id = ? OR SUBSTRING(id, 1, ?) = ?",
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

func (b *mysqlBackend) List(ctx context.Context) ([]*core.Summary, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id, state FROM `workflow_states` ORDER BY created_at, id")
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
			b.options.Logger.Warn("skipping unreadable checkpoint", log.RunIDKey, id, "error", err)
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

func (b *mysqlBackend) Tracer() trace.Tracer {
	return b.options.TracerProvider.Tracer(backend.TracerName)
}

func (b *mysqlBackend) Metrics() metrics.Client {
	return b.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "mysql"})
}

func (b *mysqlBackend) Options() *backend.Options {
	return &b.options.Options
}

func (b *mysqlBackend) Close() error {
	return b.db.Close()
}
