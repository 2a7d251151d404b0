package executor

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/graph"
)

type binding struct {
	key   string
	value json.RawMessage
}

// bindOutputs extracts the output bindings of a task from its result. A path that does
// not exist in the result fails the attempt.
func bindOutputs(n *graph.TaskNode, result json.RawMessage) ([]binding, error) {
	var out []binding
	for _, o := range n.Outputs {
		value, ok := lookup(result, o.Path)
		if !ok {
			return nil, fmt.Errorf("task %q: output %q: path %q not found in result", n.ID, o.Name, o.Path)
		}

		out = append(out, bindingsFor(n.ID, o, value)...)
	}

	return out, nil
}

// fallbackBindings binds what a fallback value provides and skips missing paths.
func fallbackBindings(n *graph.TaskNode, value json.RawMessage) []binding {
	var out []binding
	for _, o := range n.Outputs {
		if v, ok := lookup(value, o.Path); ok {
			out = append(out, bindingsFor(n.ID, o, v)...)
		}
	}

	return out
}

func lookup(result json.RawMessage, path string) (json.RawMessage, bool) {
	if path == "" {
		return result, true
	}

	r := gjson.GetBytes(result, path)
	if !r.Exists() {
		return nil, false
	}

	return json.RawMessage(r.Raw), true
}

func bindingsFor(taskID string, o graph.OutputBinding, value json.RawMessage) []binding {
	bs := []binding{{key: core.VarKey(core.ScopeTask, taskID, o.Name), value: value}}
	if o.Export {
		bs = append(bs, binding{key: core.VarKey(core.ScopeWorkflow, "", o.Name), value: value})
	}

	return bs
}
