package core

import "strings"

// Scope is a variable namespace.
type Scope string

const (
	ScopeWorkflow Scope = "workflow"
	ScopeAgent    Scope = "agent"
	ScopeTask     Scope = "task"
)

// VarKey builds a scoped variable key. Workflow-scoped keys have no owner:
//
//	workflow.<name>
//	agent.<agent-id>.<name>
//	task.<task-id>.<name>
func VarKey(scope Scope, owner, name string) string {
	if scope == ScopeWorkflow || owner == "" {
		return string(scope) + "." + name
	}

	return string(scope) + "." + owner + "." + name
}

// ParseVarKey splits a key built by VarKey.
func ParseVarKey(key string) (scope Scope, owner, name string, ok bool) {
	head, rest, found := strings.Cut(key, ".")
	if !found || rest == "" {
		return "", "", "", false
	}

	switch Scope(head) {
	case ScopeWorkflow:
		return ScopeWorkflow, "", rest, true

	case ScopeAgent, ScopeTask:
		// Owner IDs may not contain dots, names may.
		owner, name, found := strings.Cut(rest, ".")
		if !found || owner == "" || name == "" {
			return "", "", "", false
		}

		return Scope(head), owner, name, true
	}

	return "", "", "", false
}
