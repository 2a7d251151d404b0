package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/backend/test"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, opts ...RedisBackendOption) (*redisBackend, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})

	b, err := NewRedisBackend(client, opts...)
	require.NoError(t, err)

	return b, mr
}

func Test_RedisBackend(t *testing.T) {
	test.BackendTest(t, func(t *testing.T) test.TestBackend {
		b, _ := newTestBackend(t, WithKeyPrefix("dslflow:"))
		return b
	}, func(b test.TestBackend) {
		_ = b.Close()
	})
}

func Test_RedisBackend_KeyPrefix(t *testing.T) {
	b, mr := newTestBackend(t, WithKeyPrefix("prefix:"))
	defer b.Close()

	s := core.NewWorkflowState("run", "wf", "", "hash", []string{"a"}, time.Now().UTC())
	s.Status = core.WorkflowStatusRunning
	require.NoError(t, b.Save(context.Background(), s))

	require.True(t, mr.Exists("prefix:state:run"))
	require.True(t, mr.Exists("prefix:states-by-creation"))
}

func Test_RedisBackend_AutoExpiration(t *testing.T) {
	b, mr := newTestBackend(t, WithAutoExpiration(time.Minute))
	defer b.Close()

	ctx := context.Background()
	s := core.NewWorkflowState("run", "wf", "", "hash", []string{"a"}, time.Now().UTC())
	s.Status = core.WorkflowStatusRunning
	require.NoError(t, b.Save(ctx, s))
	require.Zero(t, mr.TTL("state:run"))

	s.Status = core.WorkflowStatusCompleted
	s.Tasks["a"].Status = core.TaskStatusCompleted
	require.NoError(t, b.Save(ctx, s))
	require.Equal(t, time.Minute, mr.TTL("state:run"))

	mr.FastForward(2 * time.Minute)

	_, err := b.Load(ctx, "run")
	require.ErrorIs(t, err, backend.ErrNotFound)

	summaries, err := b.List(ctx)
	require.NoError(t, err)
	require.Empty(t, summaries)
}
