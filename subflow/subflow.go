// Package subflow resolves references to nested workflow definitions.
package subflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/cschleiden/go-dslflow/workflow"
)

var ErrNotFound = errors.New("subflow not found")

// Definition is a resolved nested workflow.
type Definition = workflow.Definition

// Resolver turns a subflow reference into a definition.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*Definition, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, ref string) (*Definition, error)

func (f ResolverFunc) Resolve(ctx context.Context, ref string) (*Definition, error) {
	return f(ctx, ref)
}

// StaticResolver resolves from a fixed set of definitions.
type StaticResolver map[string]*Definition

func (r StaticResolver) Resolve(_ context.Context, ref string) (*Definition, error) {
	d, ok := r[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}

	return d, nil
}
