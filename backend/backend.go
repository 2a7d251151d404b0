// Package backend defines the state store runs are checkpointed to.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/metrics"
)

var (
	ErrNotFound           = errors.New("workflow state not found")
	ErrUnsupportedVersion = errors.New("unsupported checkpoint schema version")
)

// NotFoundError is returned when no state exists for a run ID. It matches ErrNotFound.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow state %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CorruptStateError is returned when a stored checkpoint cannot be decoded. Nothing of a
// corrupt checkpoint is applied.
type CorruptStateError struct {
	ID  string
	Err error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("workflow state %q is corrupt: %v", e.ID, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

const TracerName = "go-dslflow"

// Backend persists workflow states. Implementations must commit Save atomically: a
// concurrent or subsequent Load observes either the previous or the new state, never a
// mix of both.
type Backend interface {
	// Save stores the state, replacing any previous checkpoint of the same run.
	Save(ctx context.Context, state *core.WorkflowState) error

	// Load returns the latest checkpoint of the given run.
	Load(ctx context.Context, id string) (*core.WorkflowState, error)

	// Delete removes the state of the given run and all runs nested below it.
	Delete(ctx context.Context, id string) error

	// List returns summaries of all stored runs, ordered by creation time.
	List(ctx context.Context) ([]*core.Summary, error)

	// Tracer returns the configured trace provider for the backend
	Tracer() trace.Tracer

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}

// NestedPrefix returns the prefix shared by the IDs of all runs nested below id.
func NestedPrefix(id string) string {
	return id + "/"
}

// Covers returns true if candidate is id itself or a run nested below it.
func Covers(id, candidate string) bool {
	return candidate == id || strings.HasPrefix(candidate, NestedPrefix(id))
}

// SortSummaries orders summaries by creation time, then ID.
func SortSummaries(s []*core.Summary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.Before(s[j].CreatedAt)
		}

		return s[i].ID < s[j].ID
	})
}
