package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/metrics"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var _ backend.Backend = (*redisBackend)(nil)

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (*redisBackend, error) {
	// Default options
	options := &RedisOptions{
		Options: backend.ApplyOptions(),
	}

	for _, opt := range opts {
		opt(options)
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &redisBackend{
		rdb:     client,
		options: options,
	}, nil
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions
}

func (rb *redisBackend) Save(ctx context.Context, state *core.WorkflowState) error {
	data, err := backend.Encode(state)
	if err != nil {
		return err
	}

	defer metrics.StartTimer(rb.Metrics(), metrickeys.CheckpointSaveLatency, nil).Stop()

	expiration := time.Duration(redis.KeepTTL)
	if state.Status.IsTerminal() && rb.options.AutoExpiration > 0 {
		expiration = rb.options.AutoExpiration
	}

	if err := rb.write(ctx, state.ID, float64(state.CreatedAt.UnixMilli()), data, expiration); err != nil {
		return err
	}

	rb.Metrics().Counter(metrickeys.CheckpointSaved, nil, 1)

	return nil
}

func (rb *redisBackend) write(ctx context.Context, id string, score float64, data []byte, expiration time.Duration) error {
	// MULTI/EXEC commits the checkpoint and its index entry together.
	_, err := rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, stateKey(rb.options.KeyPrefix, id), data, expiration)
		p.ZAddNX(ctx, statesByCreation(rb.options.KeyPrefix), redis.Z{Score: score, Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing workflow state: %w", err)
	}

	return nil
}

// WriteRaw stores checkpoint bytes as-is.
func (rb *redisBackend) WriteRaw(ctx context.Context, id string, data []byte) error {
	return rb.write(ctx, id, 0, data, 0)
}

func (rb *redisBackend) Load(ctx context.Context, id string) (*core.WorkflowState, error) {
	data, err := rb.rdb.Get(ctx, stateKey(rb.options.KeyPrefix, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &backend.NotFoundError{ID: id}
		}

		return nil, fmt.Errorf("loading workflow state: %w", err)
	}

	state, err := backend.Decode(id, data)
	if err != nil {
		return nil, err
	}

	rb.Metrics().Counter(metrickeys.CheckpointLoaded, nil, 1)

	return state, nil
}

func (rb *redisBackend) Delete(ctx context.Context, id string) error {
	exists, err := rb.rdb.Exists(ctx, stateKey(rb.options.KeyPrefix, id)).Result()
	if err != nil {
		return fmt.Errorf("checking workflow state: %w", err)
	}

	if exists == 0 {
		return &backend.NotFoundError{ID: id}
	}

	ids, err := rb.rdb.ZRange(ctx, statesByCreation(rb.options.KeyPrefix), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("listing workflow states: %w", err)
	}

	var keys []string
	var members []any
	for _, candidate := range ids {
		if backend.Covers(id, candidate) {
			keys = append(keys, stateKey(rb.options.KeyPrefix, candidate))
			members = append(members, candidate)
		}
	}

	if len(keys) == 0 {
		keys = append(keys, stateKey(rb.options.KeyPrefix, id))
		members = append(members, id)
	}

	_, err = rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		p.ZRem(ctx, statesByCreation(rb.options.KeyPrefix), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting workflow state: %w", err)
	}

	return nil
}

func (rb *redisBackend) List(ctx context.Context) ([]*core.Summary, error) {
	ids, err := rb.rdb.ZRange(ctx, statesByCreation(rb.options.KeyPrefix), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing workflow states: %w", err)
	}

	if len(ids) == 0 {
		return []*core.Summary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = stateKey(rb.options.KeyPrefix, id)
	}

	values, err := rb.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading workflow states: %w", err)
	}

	summaries := make([]*core.Summary, 0, len(ids))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired, remove from the index below
			expired = append(expired, ids[i])
			continue
		}

		state, err := backend.Decode(ids[i], []byte(raw))
		if err != nil {
			rb.options.Logger.Warn("skipping unreadable checkpoint", log.RunIDKey, ids[i], "error", err)
			continue
		}

		summaries = append(summaries, state.Summarize())
	}

	if len(expired) > 0 {
		if err := rb.rdb.ZRem(ctx, statesByCreation(rb.options.KeyPrefix), expired...).Err(); err != nil {
			rb.options.Logger.Warn("removing expired runs from index", "error", err)
		}
	}

	backend.SortSummaries(summaries)

	return summaries, nil
}

func (rb *redisBackend) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisBackend) Metrics() metrics.Client {
	return rb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "redis"})
}

func (rb *redisBackend) Options() *backend.Options {
	return &rb.options.Options
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}
