package diag

import (
	"context"

	"github.com/cschleiden/go-dslflow/core"
)

// json: serialization in this file is the contract with state-browser clients

// RunInfo is a persisted run together with the runs nested directly below it.
type RunInfo struct {
	*core.Summary

	State *core.WorkflowState `json:"state"`

	Children []*core.Summary `json:"children,omitempty"`
}

// RunTree is a run and, recursively, all of its nested runs.
type RunTree struct {
	*core.Summary

	Children []*RunTree `json:"children,omitempty"`
}

// Store is the part of backend.Backend the diagnostics API reads from.
type Store interface {
	Load(ctx context.Context, id string) (*core.WorkflowState, error)
	List(ctx context.Context) ([]*core.Summary, error)
}
