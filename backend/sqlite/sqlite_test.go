package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cschleiden/go-dslflow/backend/test"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/stretchr/testify/require"
)

func Test_SqliteBackend(t *testing.T) {
	test.BackendTest(t, func(t *testing.T) test.TestBackend {
		return NewInMemoryBackend()
	}, func(b test.TestBackend) {
		if err := b.Close(); err != nil {
			panic(err)
		}
	})
}

func Test_SqliteBackend_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	ctx := context.Background()

	b := NewSqliteBackend(path)
	s := core.NewWorkflowState("run", "wf", "", "hash", []string{"a"}, time.Now().UTC())
	s.Status = core.WorkflowStatusPaused
	require.NoError(t, b.Save(ctx, s))
	require.NoError(t, b.Close())

	// Migrations are idempotent when reopening the database.
	b = NewSqliteBackend(path)
	defer b.Close()

	loaded, err := b.Load(ctx, "run")
	require.NoError(t, err)
	require.Equal(t, s, loaded)
}
