package test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestBackend is a backend that can store raw checkpoint bytes, used to exercise corrupt
// state handling.
type TestBackend interface {
	backend.Backend

	WriteRaw(ctx context.Context, id string, data []byte) error
}

// BackendTest runs the shared state store conformance tests against a backend.
func BackendTest(t *testing.T, setup func(t *testing.T) TestBackend, teardown func(b TestBackend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b TestBackend)
	}{
		{
			name: "Load_NotFound",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				_, err := b.Load(ctx, uuid.NewString())

				var notFound *backend.NotFoundError
				require.ErrorAs(t, err, &notFound)
				require.ErrorIs(t, err, backend.ErrNotFound)
			},
		},
		{
			name: "Save_Load_RoundTrip",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				s := newState(uuid.NewString(), time.Now())
				s.Tasks["a"].Status = core.TaskStatusCompleted
				s.Tasks["a"].Attempts = 1
				s.Tasks["a"].Result = json.RawMessage(`{"ok":true}`)
				s.Bind("task.a.ok", json.RawMessage(`true`))

				require.NoError(t, b.Save(ctx, s))

				loaded, err := b.Load(ctx, s.ID)
				require.NoError(t, err)
				require.Equal(t, s, loaded)
			},
		},
		{
			name: "Save_Overwrites",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				s := newState(uuid.NewString(), time.Now())
				require.NoError(t, b.Save(ctx, s))

				s.Status = core.WorkflowStatusPaused
				s.Tasks["b"].Status = core.TaskStatusReady
				require.NoError(t, b.Save(ctx, s))

				loaded, err := b.Load(ctx, s.ID)
				require.NoError(t, err)
				require.Equal(t, core.WorkflowStatusPaused, loaded.Status)
				require.Equal(t, core.TaskStatusReady, loaded.Tasks["b"].Status)
			},
		},
		{
			name: "Save_DoesNotRetainState",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				s := newState(uuid.NewString(), time.Now())
				require.NoError(t, b.Save(ctx, s))

				s.Tasks["a"].Status = core.TaskStatusFailed

				loaded, err := b.Load(ctx, s.ID)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusPending, loaded.Tasks["a"].Status)
			},
		},
		{
			name: "Load_Corrupt",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				id := uuid.NewString()
				require.NoError(t, b.WriteRaw(ctx, id, []byte(`{"schema_version":1,"id":`)))

				_, err := b.Load(ctx, id)

				var corrupt *backend.CorruptStateError
				require.ErrorAs(t, err, &corrupt)
			},
		},
		{
			name: "Load_UnsupportedVersion",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				id := uuid.NewString()
				require.NoError(t, b.WriteRaw(ctx, id, []byte(`{"schema_version":42,"id":"`+id+`","status":"running","tasks":{}}`)))

				_, err := b.Load(ctx, id)
				require.ErrorIs(t, err, backend.ErrUnsupportedVersion)
			},
		},
		{
			name: "Delete_RemovesNestedRuns",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				now := time.Now()
				parent := newState(uuid.NewString(), now)
				child := newState(parent.ID+"/a", now)
				child.ParentID = parent.ID
				other := newState(parent.ID+"-other", now)

				for _, s := range []*core.WorkflowState{parent, child, other} {
					require.NoError(t, b.Save(ctx, s))
				}

				require.NoError(t, b.Delete(ctx, parent.ID))

				for _, id := range []string{parent.ID, child.ID} {
					_, err := b.Load(ctx, id)
					require.ErrorIs(t, err, backend.ErrNotFound)
				}

				_, err := b.Load(ctx, other.ID)
				require.NoError(t, err)
			},
		},
		{
			name: "Delete_NotFound",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				err := b.Delete(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrNotFound)
			},
		},
		{
			name: "List_ReturnsSummariesInCreationOrder",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				base := time.Now().Add(-time.Hour).Truncate(time.Second)

				first := newState(uuid.NewString(), base)
				first.Status = core.WorkflowStatusFailed
				first.Tasks["a"].Status = core.TaskStatusFailed
				first.Tasks["a"].Error = "boom"

				second := newState(uuid.NewString(), base.Add(time.Minute))
				second.Status = core.WorkflowStatusCompleted
				second.Tasks["a"].Status = core.TaskStatusCompleted
				second.Tasks["b"].Status = core.TaskStatusSkipped

				require.NoError(t, b.Save(ctx, second))
				require.NoError(t, b.Save(ctx, first))

				summaries, err := b.List(ctx)
				require.NoError(t, err)

				var got []*core.Summary
				for _, s := range summaries {
					if s.ID == first.ID || s.ID == second.ID {
						got = append(got, s)
					}
				}

				require.Len(t, got, 2)
				require.Equal(t, first.ID, got[0].ID)
				require.Equal(t, core.WorkflowStatusFailed, got[0].Status)
				require.Equal(t, 1, got[0].Failed)
				require.Equal(t, "boom", got[0].FirstError)

				require.Equal(t, second.ID, got[1].ID)
				require.Equal(t, 1, got[1].Completed)
				require.Equal(t, 1, got[1].Skipped)
			},
		},
		{
			name: "Save_CancelledContext",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				ctx, cancel := context.WithCancel(ctx)
				cancel()

				err := b.Save(ctx, newState(uuid.NewString(), time.Now()))
				require.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup(t)
			ctx := context.Background()

			tt.f(t, ctx, b)

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func newState(id string, now time.Time) *core.WorkflowState {
	s := core.NewWorkflowState(id, "test", "1", "hash", []string{"a", "b"}, now.UTC().Truncate(time.Millisecond))
	s.Status = core.WorkflowStatusRunning
	return s
}
