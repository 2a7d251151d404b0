package condition

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Evaluate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("# done"), 0o644))

	ec := &Context{WorkDir: dir, Timeout: 5 * time.Second}

	tests := []struct {
		name string
		c    *Condition
		want bool
	}{
		{"always", Always(), true},
		{"never", Never(), false},
		{"empty and is true", And(), true},
		{"empty or is false", Or(), false},
		{"and", And(Always(), Always()), true},
		{"and with never", And(Always(), Never()), false},
		{"or", Or(Never(), Always()), true},
		{"not", Not(Never()), true},
		{"file exists relative", FileExists("report.md"), true},
		{"file exists absolute", FileExists(filepath.Join(dir, "report.md")), true},
		{"file missing", FileExists("missing.md"), false},
		{"command succeeds", CommandSucceeds("exit 0"), true},
		{"command fails is false", CommandSucceeds("exit 3"), false},
		{"command runs in work dir", CommandSucceeds("test -f report.md"), true},
		{"output matches", OutputMatches("echo hello world", "^hello"), true},
		{"output does not match", OutputMatches("echo hello world", "^world"), false},
		{"output matches ignores exit code", OutputMatches("echo partial; exit 1", "partial"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(context.Background(), tt.c, ec)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func Test_Evaluate_ShortCircuits(t *testing.T) {
	dir := t.TempDir()
	ec := &Context{WorkDir: dir}

	ok, err := Evaluate(context.Background(), And(Never(), CommandSucceeds("touch and-marker")), ec)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Evaluate(context.Background(), Or(Always(), CommandSucceeds("touch or-marker")), ec)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoFileExists(t, filepath.Join(dir, "and-marker"))
	require.NoFileExists(t, filepath.Join(dir, "or-marker"))
}

func Test_Evaluate_Errors(t *testing.T) {
	tests := []struct {
		name string
		c    *Condition
		ec   *Context
		kind ErrorKind
	}{
		{
			name: "nil",
			c:    nil,
			kind: ErrorKindMalformed,
		},
		{
			name: "empty command",
			c:    CommandSucceeds("  "),
			kind: ErrorKindMalformed,
		},
		{
			name: "bad pattern",
			c:    OutputMatches("echo x", "("),
			kind: ErrorKindMalformed,
		},
		{
			name: "not without operand",
			c:    &Condition{Kind: KindNot},
			kind: ErrorKindMalformed,
		},
		{
			name: "unknown kind",
			c:    &Condition{Kind: "maybe"},
			kind: ErrorKindMalformed,
		},
		{
			name: "command timeout",
			c:    CommandSucceeds("sleep 5"),
			ec:   &Context{Timeout: 50 * time.Millisecond},
			kind: ErrorKindTimeout,
		},
		{
			name: "spawn failure",
			c:    CommandSucceeds("true"),
			ec:   &Context{Shell: "/does/not/exist -c"},
			kind: ErrorKindSpawn,
		},
		{
			name: "output matches spawn failure",
			c:    OutputMatches("true", "x"),
			ec:   &Context{Shell: "/does/not/exist -c"},
			kind: ErrorKindSpawn,
		},
		{
			name: "error inside and",
			c:    And(Always(), CommandSucceeds("")),
			kind: ErrorKindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Evaluate(context.Background(), tt.c, tt.ec)
			require.False(t, ok)

			var evalErr *EvaluationError
			require.ErrorAs(t, err, &evalErr)
			require.Equal(t, tt.kind, evalErr.Kind)
		})
	}
}

func Test_Evaluate_OutputMatchesTimeoutIsFalse(t *testing.T) {
	ok, err := Evaluate(context.Background(), OutputMatches("sleep 5", "x"), &Context{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_Evaluate_Env(t *testing.T) {
	vars := map[string]json.RawMessage{
		"task.build.artifact": json.RawMessage(`"bin/app"`),
		"workflow.count":      json.RawMessage(`3`),
	}

	ec := &Context{Env: EnvFromVariables(vars)}

	ok, err := Evaluate(context.Background(), CommandSucceeds(`test "$DSLFLOW_TASK_BUILD_ARTIFACT" = "bin/app" && test "$DSLFLOW_WORKFLOW_COUNT" = 3`), ec)
	require.NoError(t, err)
	require.True(t, ok)
}

func Test_Evaluate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Evaluate(ctx, CommandSucceeds("true"), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func Test_FromValue(t *testing.T) {
	var v any
	require.NoError(t, json.Unmarshal([]byte(`{
		"and": [
			{"file_exists": "out/report.md"},
			{"not": {"command_succeeds": "grep -q TODO out/report.md"}},
			{"or": ["never", {"output_matches": {"command": "cat out/report.md", "pattern": "^# "}}]}
		]
	}`), &v))

	c, err := FromValue(v)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t,
		`and(file_exists("out/report.md"), not(command_succeeds("grep -q TODO out/report.md")), or(never, output_matches("cat out/report.md", "^# ")))`,
		c.String())
}

func Test_FromValue_Errors(t *testing.T) {
	for _, v := range []any{
		nil,
		"sometimes",
		map[string]any{"and": "x"},
		map[string]any{"file_exists": "a", "command_succeeds": "b"},
		map[string]any{"unknown": "x"},
		42,
	} {
		_, err := FromValue(v)
		require.Error(t, err, "%v", v)
	}
}

func Test_UnmarshalJSON(t *testing.T) {
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(`{"not": "always"}`), &c))
	require.Equal(t, KindNot, c.Kind)
	require.Equal(t, KindAlways, c.Children[0].Kind)
}
