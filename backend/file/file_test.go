package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/backend/test"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/stretchr/testify/require"
)

func Test_FileBackend(t *testing.T) {
	test.BackendTest(t, func(t *testing.T) test.TestBackend {
		b, err := NewFileBackend(t.TempDir())
		require.NoError(t, err)
		return b
	}, func(b test.TestBackend) {
		require.NoError(t, b.Close())
	})
}

func Test_FileBackend_LeavesNoStagingFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()

	s := core.NewWorkflowState("run/review", "wf", "", "hash", []string{"a"}, time.Now().UTC())
	s.Status = core.WorkflowStatusRunning
	for i := 0; i < 5; i++ {
		s.Tasks["a"].Attempts = i
		require.NoError(t, b.Save(context.Background(), s))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{lockFile, "run%2Freview.json"}, names)
}

func Test_FileBackend_IgnoresInterruptedWrites(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	s := core.NewWorkflowState("run", "wf", "", "hash", []string{"a"}, time.Now().UTC())
	s.Status = core.WorkflowStatusRunning
	require.NoError(t, b.Save(ctx, s))

	// A crash between staging and rename leaves a partial staging file behind.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.json"+stagingSuffix+"123"), []byte(`{"schema_version":1,`), 0o644))

	loaded, err := b.Load(ctx, "run")
	require.NoError(t, err)
	require.Equal(t, s, loaded)

	summaries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}

func Test_FileBackend_ListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.WriteRaw(ctx, "broken", []byte("not json")))

	summaries, err := b.List(ctx)
	require.NoError(t, err)
	require.Empty(t, summaries)

	_, err = b.Load(ctx, "broken")

	var corrupt *backend.CorruptStateError
	require.ErrorAs(t, err, &corrupt)
}

func Test_FileBackend_SharedDirectory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1, err := NewFileBackend(dir)
	require.NoError(t, err)
	defer b1.Close()

	b2, err := NewFileBackend(dir)
	require.NoError(t, err)
	defer b2.Close()

	s := core.NewWorkflowState("run", "wf", "", "hash", []string{"a"}, time.Now().UTC())
	s.Status = core.WorkflowStatusPaused
	require.NoError(t, b1.Save(ctx, s))

	loaded, err := b2.Load(ctx, "run")
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusPaused, loaded.Status)
}

func Test_FileBackend_ListsDotPrefixedIDs(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	for _, id := range []string{".hidden", ".lock", "run"} {
		s := core.NewWorkflowState(id, "wf", "", "hash", []string{"a"}, time.Now().UTC())
		s.Status = core.WorkflowStatusRunning
		require.NoError(t, b.Save(ctx, s))
	}

	summaries, err := b.List(ctx)
	require.NoError(t, err)

	var ids []string
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}
	require.ElementsMatch(t, []string{".hidden", ".lock", "run"}, ids)
}

func Test_FileBackend_WritersExcludeEachOther(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()

	unlock, err := b.acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan func())
	go func() {
		u, err := b.acquire(ctx)
		if err != nil {
			close(acquired)
			return
		}
		acquired <- u
	}()

	select {
	case <-acquired:
		t.Fatal("second writer took the lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	second, ok := <-acquired
	require.True(t, ok)

	// The directory stays locked until the second writer releases it
	require.True(t, b.lock.Locked())
	second()
	require.False(t, b.lock.Locked())

	ctx, cancel := context.WithCancel(ctx)
	unlock, err = b.acquire(ctx)
	require.NoError(t, err)
	defer unlock()

	cancel()
	_, err = b.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func Test_FileBackend_ConcurrentSaves(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), WithLockRetryDelay(time.Millisecond))
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			s := core.NewWorkflowState(fmt.Sprintf("run/%d", i), "wf", "", "hash", []string{"a"}, time.Now().UTC())
			s.Status = core.WorkflowStatusRunning
			errs <- b.Save(ctx, s)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	summaries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 20)
	require.False(t, b.lock.Locked())
}
