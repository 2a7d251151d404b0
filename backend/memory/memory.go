// Package memory provides an in-process backend for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/metrics"
	"go.opentelemetry.io/otel/trace"
)

var _ backend.Backend = (*memoryBackend)(nil)

// NewMemoryBackend returns a backend keeping encoded checkpoints in memory. Checkpoints
// are stored encoded so loaded states never alias saved ones.
func NewMemoryBackend(opts ...backend.BackendOption) *memoryBackend {
	options := backend.ApplyOptions(opts...)

	return &memoryBackend{
		options: &options,
		states:  map[string][]byte{},
	}
}

type memoryBackend struct {
	options *backend.Options

	mu     sync.RWMutex
	states map[string][]byte
}

func (mb *memoryBackend) Save(ctx context.Context, state *core.WorkflowState) error {
	data, err := backend.Encode(state)
	if err != nil {
		return err
	}

	defer metrics.StartTimer(mb.Metrics(), metrickeys.CheckpointSaveLatency, nil).Stop()

	mb.mu.Lock()
	mb.states[state.ID] = data
	mb.mu.Unlock()

	mb.Metrics().Counter(metrickeys.CheckpointSaved, nil, 1)

	return nil
}

// WriteRaw stores checkpoint bytes as-is.
func (mb *memoryBackend) WriteRaw(ctx context.Context, id string, data []byte) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.states[id] = append([]byte(nil), data...)
	return nil
}

func (mb *memoryBackend) Load(ctx context.Context, id string) (*core.WorkflowState, error) {
	mb.mu.RLock()
	data, ok := mb.states[id]
	mb.mu.RUnlock()

	if !ok {
		return nil, &backend.NotFoundError{ID: id}
	}

	state, err := backend.Decode(id, data)
	if err != nil {
		return nil, err
	}

	mb.Metrics().Counter(metrickeys.CheckpointLoaded, nil, 1)

	return state, nil
}

func (mb *memoryBackend) Delete(ctx context.Context, id string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.states[id]; !ok {
		return &backend.NotFoundError{ID: id}
	}

	for k := range mb.states {
		if backend.Covers(id, k) {
			delete(mb.states, k)
		}
	}

	return nil
}

func (mb *memoryBackend) List(ctx context.Context) ([]*core.Summary, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	summaries := make([]*core.Summary, 0, len(mb.states))
	for id, data := range mb.states {
		s, err := backend.Decode(id, data)
		if err != nil {
			mb.options.Logger.Warn("skipping unreadable checkpoint", log.RunIDKey, id, "error", err)
			continue
		}

		summaries = append(summaries, s.Summarize())
	}

	backend.SortSummaries(summaries)

	return summaries, nil
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "memory"})
}

func (mb *memoryBackend) Options() *backend.Options {
	return mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}
