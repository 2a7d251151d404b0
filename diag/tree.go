package diag

import (
	"fmt"

	"github.com/cschleiden/go-dslflow/core"
)

type runTreeBuilder struct {
	byID     map[string]*core.Summary
	children map[string][]*core.Summary
}

func newRunTreeBuilder(summaries []*core.Summary) *runTreeBuilder {
	b := &runTreeBuilder{
		byID:     map[string]*core.Summary{},
		children: map[string][]*core.Summary{},
	}

	for _, s := range summaries {
		b.byID[s.ID] = s
		if s.ParentID != "" {
			b.children[s.ParentID] = append(b.children[s.ParentID], s)
		}
	}

	return b
}

// build returns the tree of the top-level run that id belongs to.
func (b *runTreeBuilder) build(id string) (*RunTree, error) {
	run, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("run %q not found", id)
	}

	// Get root run of tree
	for run.ParentID != "" {
		parent, ok := b.byID[run.ParentID]
		if !ok {
			break
		}
		run = parent
	}

	root := &RunTree{Summary: run}

	s := []*RunTree{root}
	for len(s) > 0 {
		node := s[0]
		s = s[1:]

		for _, child := range b.children[node.ID] {
			t := &RunTree{Summary: child}

			// Enqueue
			s = append(s, t)

			// Add to current node
			node.Children = append(node.Children, t)
		}
	}

	return root, nil
}
