// Package workflow loads DSL workflow documents.
//
// A document names its agents and an ordered mapping of tasks:
//
//	name: release-notes
//	variables:
//	  repo: cschleiden/go-dslflow
//	agents:
//	  writer:
//	    command: claude -p
//	tasks:
//	  collect:
//	    agent: writer
//	    prompt: Collect merged PRs
//	    outputs:
//	      prs: items
//	  draft:
//	    agent: writer
//	    depends_on: [collect]
//	    done:
//	      file_exists: NOTES.md
//	    recovery:
//	      retry: {max_attempts: 3, backoff: 10s}
//	      then:
//	        fallback: {task: manual}
//
// Tasks keep the order they are written in, which is the order ready tasks are
// dispatched in.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cschleiden/go-dslflow/agent"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/graph"
)

// Definition is a parsed and validated workflow.
type Definition struct {
	Name        string
	Version     string
	Description string

	Agents map[string]agent.Spec

	Graph *graph.TaskGraph

	// Variables holds the initial bindings in the workflow and agent scopes.
	Variables map[string]json.RawMessage

	// Source is the file the definition was read from, if any.
	Source string
}

// New builds a definition from already constructed task nodes.
func New(name string, nodes []*graph.TaskNode) (*Definition, error) {
	g, err := graph.Build(nodes)
	if err != nil {
		return nil, err
	}

	return &Definition{
		Name:      name,
		Graph:     g,
		Variables: map[string]json.RawMessage{},
	}, nil
}

// WithInputs returns the initial variables of a run overridden by the given workflow
// inputs.
func (d *Definition) WithInputs(inputs map[string]any) (map[string]json.RawMessage, error) {
	vars := make(map[string]json.RawMessage, len(d.Variables)+len(inputs))
	for k, v := range d.Variables {
		vars[k] = v
	}

	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b, err := json.Marshal(inputs[k])
		if err != nil {
			return nil, fmt.Errorf("encoding input %q: %w", k, err)
		}

		vars[core.VarKey(core.ScopeWorkflow, "", k)] = b
	}

	return vars, nil
}

// checkAgents verifies every agent-run task names a declared agent.
func (d *Definition) checkAgents(g *graph.TaskGraph) error {
	for _, n := range g.Nodes() {
		if n.IsGroup() {
			sub, _ := g.Subgraph(n.ID)
			if err := d.checkAgents(sub); err != nil {
				return err
			}
			continue
		}

		if n.Agent == "" {
			continue
		}

		if _, ok := d.Agents[n.Agent]; !ok {
			return &graph.InvalidTaskError{Task: n.ID, Reason: fmt.Sprintf("unknown agent %q", n.Agent)}
		}
	}

	return nil
}
