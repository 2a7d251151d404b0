// Package graph holds the validated task dependency graph of a workflow.
package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/cschleiden/go-dslflow/condition"
	"github.com/cschleiden/go-dslflow/core"
)

// TaskGraph is an immutable, validated DAG of tasks. It is safe for concurrent reads.
type TaskGraph struct {
	nodes  []*TaskNode // definition order
	byID   map[string]*TaskNode
	index  map[string]int
	groups map[string]*TaskGraph

	// dependents[i] holds the definition indices of tasks that depend on nodes[i].
	dependents [][]int

	hash string
}

// Build validates the nodes and returns the graph. Nodes keep their definition order,
// which is the order ReadySet reports tasks in.
func Build(nodes []*TaskNode) (*TaskGraph, error) {
	return build(nodes, "")
}

func build(nodes []*TaskNode, inheritedAgent string) (*TaskGraph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("", "no tasks")
	}

	g := &TaskGraph{
		nodes:      make([]*TaskNode, 0, len(nodes)),
		byID:       make(map[string]*TaskNode, len(nodes)),
		index:      make(map[string]int, len(nodes)),
		groups:     map[string]*TaskGraph{},
		dependents: make([][]int, len(nodes)),
	}

	for _, n := range nodes {
		if n == nil {
			return nil, invalidf("", "nil task")
		}

		if err := validateID(n.ID); err != nil {
			return nil, err
		}

		if _, ok := g.byID[n.ID]; ok {
			return nil, invalidf(n.ID, "duplicate task id")
		}

		if n.Agent == "" && inheritedAgent != "" && n.Subflow == "" {
			c := *n
			c.Agent = inheritedAgent
			n = &c
		}

		g.index[n.ID] = len(g.nodes)
		g.byID[n.ID] = n
		g.nodes = append(g.nodes, n)
	}

	for i, n := range g.nodes {
		if err := g.validateNode(n); err != nil {
			return nil, err
		}

		for _, dep := range n.DependsOn {
			g.dependents[g.index[dep]] = append(g.dependents[g.index[dep]], i)
		}
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.hash = g.computeHash()

	return g, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidf("", "task id is required")
	}

	// Dots separate variable scopes, slashes separate nested run IDs.
	if strings.ContainsAny(id, "./ \t\r\n") {
		return invalidf(id, "task id must not contain dots, slashes or whitespace")
	}

	return nil
}

func (g *TaskGraph) validateNode(n *TaskNode) error {
	switch {
	case n.IsGroup():
		if n.Subflow != "" {
			return invalidf(n.ID, "a task with subtasks cannot reference a subflow")
		}

		sub, err := build(n.Subtasks, n.Agent)
		if err != nil {
			return fmt.Errorf("subtasks of %q: %w", n.ID, err)
		}
		g.groups[n.ID] = sub

	case n.Agent != "" && n.Subflow != "":
		return invalidf(n.ID, "agent and subflow are mutually exclusive")

	case n.Agent == "" && n.Subflow == "":
		return invalidf(n.ID, "either agent or subflow is required")
	}

	seen := make(map[string]bool, len(n.DependsOn))
	for _, dep := range n.DependsOn {
		if _, ok := g.byID[dep]; !ok {
			return &UnknownDependencyError{Task: n.ID, MissingDep: dep}
		}

		if seen[dep] {
			return invalidf(n.ID, "duplicate dependency %q", dep)
		}
		seen[dep] = true
	}

	if n.When != nil {
		if err := n.When.Validate(); err != nil {
			return invalidf(n.ID, "when: %v", err)
		}
	}

	if n.DoD != nil {
		if err := n.DoD.Validate(); err != nil {
			return invalidf(n.ID, "definition of done: %v", err)
		}
	}

	if err := n.Recovery.Validate(); err != nil {
		return invalidf(n.ID, "recovery: %v", err)
	}

	for _, id := range n.Recovery.Tasks() {
		alt, ok := g.byID[id]
		if !ok {
			return invalidf(n.ID, "fallback task %q does not exist", id)
		}
		if id == n.ID {
			return invalidf(n.ID, "task cannot fall back to itself")
		}
		if alt.Agent == "" || alt.IsGroup() {
			return invalidf(n.ID, "fallback task %q must be run by an agent", id)
		}
	}

	names := make(map[string]bool, len(n.Outputs))
	for _, o := range n.Outputs {
		if o.Name == "" {
			return invalidf(n.ID, "output binding requires a name")
		}
		if names[o.Name] {
			return invalidf(n.ID, "duplicate output %q", o.Name)
		}
		names[o.Name] = true
	}

	if n.Timeout < 0 {
		return invalidf(n.ID, "timeout must not be negative")
	}

	return nil
}

const (
	white = iota
	gray
	black
)

// validateAcyclic runs a depth-first search over the dependency edges, visiting roots in
// definition order so the reported cycle is deterministic.
func (g *TaskGraph) validateAcyclic() error {
	color := make([]int, len(g.nodes))
	var stack []string

	var visit func(i int) error
	visit = func(i int) error {
		color[i] = gray
		stack = append(stack, g.nodes[i].ID)

		for _, dep := range g.nodes[i].DependsOn {
			j := g.index[dep]
			switch color[j] {
			case gray:
				start := slices.Index(stack, dep)
				path := append(slices.Clone(stack[start:]), dep)
				return &CyclicDependencyError{Path: path}

			case white:
				if err := visit(j); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range g.nodes {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}

	return nil
}

// Len returns the number of top-level tasks.
func (g *TaskGraph) Len() int {
	return len(g.nodes)
}

// Node returns the task with the given ID.
func (g *TaskGraph) Node(id string) (*TaskNode, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// Nodes returns the tasks in definition order.
func (g *TaskGraph) Nodes() []*TaskNode {
	return slices.Clone(g.nodes)
}

// Order returns the task IDs in definition order.
func (g *TaskGraph) Order() []string {
	ids := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		ids[i] = n.ID
	}

	return ids
}

// Subgraph returns the nested graph of a task with subtasks.
func (g *TaskGraph) Subgraph(id string) (*TaskGraph, bool) {
	sub, ok := g.groups[id]
	return sub, ok
}

// Hash returns a stable identity of the graph definition.
func (g *TaskGraph) Hash() string {
	return g.hash
}

// ReadySet returns the pending tasks whose dependencies are all completed or skipped, in
// definition order. Tasks missing from states are treated as pending.
func (g *TaskGraph) ReadySet(states map[string]core.TaskStatus) []string {
	var ready []string

	for _, n := range g.nodes {
		if status(states, n.ID) != core.TaskStatusPending {
			continue
		}

		ok := true
		for _, dep := range n.DependsOn {
			if !status(states, dep).SatisfiesDependency() {
				ok = false
				break
			}
		}

		if ok {
			ready = append(ready, n.ID)
		}
	}

	return ready
}

// IsTerminal returns true if no task is pending, ready, or running.
func (g *TaskGraph) IsTerminal(states map[string]core.TaskStatus) bool {
	for _, n := range g.nodes {
		if !status(states, n.ID).IsTerminal() {
			return false
		}
	}

	return true
}

// Descendants returns all tasks transitively depending on id, in definition order.
func (g *TaskGraph) Descendants(id string) []string {
	start, ok := g.index[id]
	if !ok {
		return nil
	}

	seen := make([]bool, len(g.nodes))
	queue := slices.Clone(g.dependents[start])
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if seen[i] {
			continue
		}
		seen[i] = true
		queue = append(queue, g.dependents[i]...)
	}

	var ids []string
	for i, s := range seen {
		if s {
			ids = append(ids, g.nodes[i].ID)
		}
	}

	return ids
}

func status(states map[string]core.TaskStatus, id string) core.TaskStatus {
	if s, ok := states[id]; ok {
		return s
	}

	return core.TaskStatusPending
}

func (g *TaskGraph) computeHash() string {
	h := sha256.New()

	writeField := func(s string) {
		var l [8]byte
		binary.BigEndian.PutUint64(l[:], uint64(len(s)))
		h.Write(l[:])
		h.Write([]byte(s))
	}

	for _, n := range g.nodes {
		writeField(n.ID)
		writeField(n.Agent)
		writeField(n.Subflow)
		writeField(strings.Join(n.DependsOn, ","))
		writeField(conditionString(n.When))
		writeField(conditionString(n.DoD))
		writeField(n.Recovery.String())
		for _, o := range n.Outputs {
			writeField(fmt.Sprintf("%s=%s,%t", o.Name, o.Path, o.Export))
		}
		writeField(n.Timeout.String())
		writeField(n.Prompt)

		// Maps are marshalled with sorted keys.
		params, _ := json.Marshal(n.Params)
		writeField(string(params))

		if sub, ok := g.groups[n.ID]; ok {
			writeField(sub.hash)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func conditionString(c *condition.Condition) string {
	if c == nil {
		return ""
	}

	return c.String()
}
