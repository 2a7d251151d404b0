package condition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// FromValue builds a condition from its generic decoded form, as produced by YAML or
// JSON decoding into `any`:
//
//	always
//	{and: [...]} / {or: [...]} / {not: ...}
//	{file_exists: path}
//	{command_succeeds: cmd}
//	{output_matches: {command: cmd, pattern: re}}
func FromValue(v any) (*Condition, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("empty condition")

	case bool:
		if t {
			return Always(), nil
		}
		return Never(), nil

	case string:
		switch Kind(strings.TrimSpace(t)) {
		case KindAlways:
			return Always(), nil
		case KindNever:
			return Never(), nil
		}
		return nil, fmt.Errorf("unknown condition %q", t)

	case map[string]any:
		if len(t) != 1 {
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("condition must have exactly one key, got %v", keys)
		}

		for k, arg := range t {
			return fromKeyed(Kind(k), arg)
		}
	}

	return nil, fmt.Errorf("unsupported condition value of type %T", v)
}

func fromKeyed(kind Kind, arg any) (*Condition, error) {
	switch kind {
	case KindAlways:
		return Always(), nil

	case KindNever:
		return Never(), nil

	case KindAnd, KindOr:
		items, ok := arg.([]any)
		if !ok {
			return nil, fmt.Errorf("%s expects a list, got %T", kind, arg)
		}

		children := make([]*Condition, 0, len(items))
		for i, item := range items {
			child, err := FromValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
			}
			children = append(children, child)
		}

		return &Condition{Kind: kind, Children: children}, nil

	case KindNot:
		child, err := FromValue(arg)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return Not(child), nil

	case KindFileExists:
		path, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("file_exists expects a path, got %T", arg)
		}
		return FileExists(path), nil

	case KindCommandSucceeds:
		cmd, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("command_succeeds expects a command, got %T", arg)
		}
		return CommandSucceeds(cmd), nil

	case KindOutputMatches:
		m, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("output_matches expects {command, pattern}, got %T", arg)
		}
		cmd, _ := m["command"].(string)
		pattern, _ := m["pattern"].(string)
		return OutputMatches(cmd, pattern), nil
	}

	return nil, fmt.Errorf("unknown condition kind %q", kind)
}

// UnmarshalJSON decodes the same forms as FromValue.
func (c *Condition) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	parsed, err := FromValue(v)
	if err != nil {
		return err
	}

	*c = *parsed
	return nil
}

// EnvFromVariables turns scoped variable bindings into environment variables for command
// conditions: "task.build.artifact" becomes DSLFLOW_TASK_BUILD_ARTIFACT. JSON strings are
// unquoted, other values are passed as their JSON text.
func EnvFromVariables(vars map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, EnvName(k)+"="+envValue(vars[k]))
	}

	return env
}

// EnvName converts a variable key into an environment variable name.
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString("DSLFLOW_")
	for _, r := range key {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}

	return b.String()
}

func envValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}
