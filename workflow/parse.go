package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cschleiden/go-dslflow/agent"
	"github.com/cschleiden/go-dslflow/condition"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/graph"
	"github.com/cschleiden/go-dslflow/recovery"
)

// ParseError is returned for a document that cannot be turned into a definition.
type ParseError struct {
	Line int
	Task string
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}

	switch {
	case e.Task != "" && e.Line > 0:
		return fmt.Sprintf("line %d: task %q: %s", e.Line, e.Task, msg)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	default:
		return msg
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type document struct {
	Name        string              `yaml:"name"`
	Version     string              `yaml:"version"`
	Description string              `yaml:"description"`
	Variables   map[string]any      `yaml:"variables"`
	Agents      map[string]agentDoc `yaml:"agents"`
	Tasks       yaml.Node           `yaml:"tasks"`
}

type agentDoc struct {
	Command   string            `yaml:"command"`
	Env       map[string]string `yaml:"env"`
	Variables map[string]any    `yaml:"variables"`
}

type taskDoc struct {
	Description string         `yaml:"description"`
	Agent       string         `yaml:"agent"`
	Subflow     string         `yaml:"subflow"`
	Prompt      string         `yaml:"prompt"`
	Params      map[string]any `yaml:"params"`
	DependsOn   []string       `yaml:"depends_on"`
	When        any            `yaml:"when"`
	Done        any            `yaml:"done"`
	Recovery    *recoveryDoc   `yaml:"recovery"`
	Outputs     yaml.Node      `yaml:"outputs"`
	Subtasks    yaml.Node      `yaml:"subtasks"`
	Timeout     string         `yaml:"timeout"`
}

var taskKeys = map[string]bool{
	"description": true, "agent": true, "subflow": true, "prompt": true, "params": true,
	"depends_on": true, "when": true, "done": true, "recovery": true, "outputs": true,
	"subtasks": true, "timeout": true,
}

type recoveryDoc struct {
	Retry    *retryDoc    `yaml:"retry"`
	Fallback *fallbackDoc `yaml:"fallback"`
	Fail     bool         `yaml:"fail"`
	When     any          `yaml:"when"`
	Then     *recoveryDoc `yaml:"then"`
}

func (r *recoveryDoc) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.Value != string(recovery.KindFail) {
			return fmt.Errorf("unknown recovery strategy %q", value.Value)
		}

		r.Fail = true
		return nil
	}

	type plain recoveryDoc
	return value.Decode((*plain)(r))
}

type retryDoc struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
}

type fallbackDoc struct {
	Task  string    `yaml:"task"`
	Value yaml.Node `yaml:"value"`
}

type outputDoc struct {
	Path   string `yaml:"path"`
	Export bool   `yaml:"export"`
}

// ParseFile reads and parses a workflow document.
func ParseFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening workflow: %w", err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	d.Source = path
	return d, nil
}

// ParseBytes parses a workflow document held in memory.
func ParseBytes(b []byte) (*Definition, error) {
	return Parse(bytes.NewReader(b))
}

// Parse parses and validates a workflow document.
func Parse(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Msg: "empty document"}
		}

		return nil, &ParseError{Msg: "decoding document", Err: err}
	}

	if doc.Name == "" {
		return nil, &ParseError{Msg: "workflow name is required"}
	}

	nodes, err := parseTasks(&doc.Tasks)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(nodes)
	if err != nil {
		return nil, &ParseError{Line: doc.Tasks.Line, Msg: "building task graph", Err: err}
	}

	d := &Definition{
		Name:        doc.Name,
		Version:     doc.Version,
		Description: doc.Description,
		Agents:      make(map[string]agent.Spec, len(doc.Agents)),
		Graph:       g,
		Variables:   map[string]json.RawMessage{},
	}

	for id, a := range doc.Agents {
		if a.Command == "" {
			return nil, &ParseError{Msg: fmt.Sprintf("agent %q: command is required", id)}
		}

		d.Agents[id] = agent.Spec{Command: a.Command, Env: a.Env}

		if err := bindAll(d.Variables, core.ScopeAgent, id, a.Variables); err != nil {
			return nil, &ParseError{Msg: fmt.Sprintf("agent %q", id), Err: err}
		}
	}

	if err := bindAll(d.Variables, core.ScopeWorkflow, "", doc.Variables); err != nil {
		return nil, &ParseError{Msg: "variables", Err: err}
	}

	if err := d.checkAgents(g); err != nil {
		return nil, &ParseError{Line: doc.Tasks.Line, Err: err}
	}

	return d, nil
}

func bindAll(vars map[string]json.RawMessage, scope core.Scope, owner string, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b, err := json.Marshal(values[k])
		if err != nil {
			return fmt.Errorf("encoding variable %q: %w", k, err)
		}

		vars[core.VarKey(scope, owner, k)] = b
	}

	return nil
}

// parseTasks walks an ordered task mapping.
func parseTasks(n *yaml.Node) ([]*graph.TaskNode, error) {
	if n.Kind == 0 {
		return nil, &ParseError{Msg: "tasks are required"}
	}

	if n.Kind != yaml.MappingNode {
		return nil, &ParseError{Line: n.Line, Msg: "tasks must be a mapping of task id to task"}
	}

	nodes := make([]*graph.TaskNode, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]

		t, err := parseTask(key.Value, value)
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				return nil, err
			}

			return nil, &ParseError{Line: key.Line, Task: key.Value, Err: err}
		}

		nodes = append(nodes, t)
	}

	return nodes, nil
}

func parseTask(id string, n *yaml.Node) (*graph.TaskNode, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("task must be a mapping")
	}

	for i := 0; i < len(n.Content); i += 2 {
		if k := n.Content[i]; !taskKeys[k.Value] {
			return nil, &ParseError{Line: k.Line, Task: id, Msg: fmt.Sprintf("unknown field %q", k.Value)}
		}
	}

	var td taskDoc
	if err := n.Decode(&td); err != nil {
		return nil, err
	}

	t := &graph.TaskNode{
		ID:          id,
		Description: td.Description,
		Agent:       td.Agent,
		Subflow:     td.Subflow,
		DependsOn:   td.DependsOn,
		Prompt:      td.Prompt,
		Params:      td.Params,
	}

	var err error
	if td.When != nil {
		if t.When, err = condition.FromValue(td.When); err != nil {
			return nil, fmt.Errorf("when: %w", err)
		}
	}

	if td.Done != nil {
		if t.DoD, err = condition.FromValue(td.Done); err != nil {
			return nil, fmt.Errorf("done: %w", err)
		}
	}

	if td.Recovery != nil {
		if t.Recovery, err = parseRecovery(td.Recovery); err != nil {
			return nil, fmt.Errorf("recovery: %w", err)
		}
	}

	if td.Timeout != "" {
		if t.Timeout, err = time.ParseDuration(td.Timeout); err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
	}

	if t.Outputs, err = parseOutputs(&td.Outputs); err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}

	if td.Subtasks.Kind != 0 {
		if t.Subtasks, err = parseTasks(&td.Subtasks); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func parseRecovery(r *recoveryDoc) (*recovery.Strategy, error) {
	var s *recovery.Strategy

	set := 0
	if r.Retry != nil {
		set++

		backoff, err := parseOptionalDuration(r.Retry.Backoff)
		if err != nil {
			return nil, fmt.Errorf("retry backoff: %w", err)
		}

		maxBackoff, err := parseOptionalDuration(r.Retry.MaxBackoff)
		if err != nil {
			return nil, fmt.Errorf("retry max_backoff: %w", err)
		}

		maxAttempts := r.Retry.MaxAttempts
		if maxAttempts == 0 {
			maxAttempts = recovery.DefaultMaxAttempts
		}

		s = recovery.Retry(maxAttempts, backoff)
		s.MaxBackoff = maxBackoff
	}

	if r.Fallback != nil {
		set++

		if r.Fallback.Value.Kind != 0 {
			var v any
			if err := r.Fallback.Value.Decode(&v); err != nil {
				return nil, fmt.Errorf("fallback value: %w", err)
			}

			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("fallback value: %w", err)
			}

			s = recovery.FallbackValue(b)
			s.FallbackTask = r.Fallback.Task
		} else {
			s = recovery.FallbackTask(r.Fallback.Task)
		}
	}

	if r.Fail {
		set++
		s = recovery.Fail()
	}

	if set != 1 {
		return nil, fmt.Errorf("exactly one of retry, fallback or fail is required")
	}

	if r.When != nil {
		c, err := condition.FromValue(r.When)
		if err != nil {
			return nil, fmt.Errorf("when: %w", err)
		}
		s.When = c
	}

	if r.Then != nil {
		then, err := parseRecovery(r.Then)
		if err != nil {
			return nil, fmt.Errorf("then: %w", err)
		}
		s.Then = then
	}

	return s, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	return time.ParseDuration(s)
}

// parseOutputs reads an ordered mapping of variable name to either a gjson path or
// {path, export}.
func parseOutputs(n *yaml.Node) ([]graph.OutputBinding, error) {
	if n.Kind == 0 {
		return nil, nil
	}

	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("outputs must be a mapping")
	}

	out := make([]graph.OutputBinding, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		name, value := n.Content[i].Value, n.Content[i+1]

		b := graph.OutputBinding{Name: name}
		switch value.Kind {
		case yaml.ScalarNode:
			b.Path = value.Value

		case yaml.MappingNode:
			var od outputDoc
			if err := value.Decode(&od); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			b.Path, b.Export = od.Path, od.Export

		default:
			return nil, fmt.Errorf("%s: expected a path or {path, export}", name)
		}

		out = append(out, b)
	}

	return out, nil
}
