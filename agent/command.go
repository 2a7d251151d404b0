package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/cschleiden/go-dslflow/graph"
	"github.com/cschleiden/go-dslflow/internal/tracing"
	"github.com/cschleiden/go-dslflow/log"
)

var ErrUnknownAgent = errors.New("unknown agent")

// Spec describes how an agent process is started.
type Spec struct {
	// Command is split using shell quoting rules; it is not run through a shell.
	Command string

	// Env holds additional environment variables for the process.
	Env map[string]string
}

// Request is written as JSON to the agent's stdin.
type Request struct {
	RunID     string                     `json:"run_id"`
	TaskID    string                     `json:"task_id"`
	Agent     string                     `json:"agent"`
	Attempt   int                        `json:"attempt"`
	Prompt    string                     `json:"prompt,omitempty"`
	Params    map[string]any             `json:"params,omitempty"`
	Variables map[string]json.RawMessage `json:"variables,omitempty"`
}

// CommandRunner runs every attempt as a short-lived subprocess. The request is passed on
// stdin, the result is read from stdout. Output that is not valid JSON is returned as a
// JSON string.
type CommandRunner struct {
	agents map[string]Spec
	logger *slog.Logger

	// stderr kept for error messages
	maxStderr int
}

func NewCommandRunner(agents map[string]Spec, logger *slog.Logger) *CommandRunner {
	if logger == nil {
		logger = slog.Default()
	}

	return &CommandRunner{
		agents:    agents,
		logger:    logger,
		maxStderr: 4 << 10,
	}
}

func (r *CommandRunner) Run(ctx context.Context, task *graph.TaskNode, in Inputs) (json.RawMessage, error) {
	spec, ok := r.agents[task.Agent]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w %q for task %q", ErrUnknownAgent, task.Agent, task.ID))
	}

	argv, err := shlex.Split(spec.Command)
	if err != nil || len(argv) == 0 {
		return nil, Permanent(fmt.Errorf("invalid command %q for agent %q", spec.Command, task.Agent))
	}

	req, err := json.Marshal(&Request{
		RunID:     in.RunID,
		TaskID:    task.ID,
		Agent:     task.Agent,
		Attempt:   in.Attempt,
		Prompt:    task.Prompt,
		Params:    task.Params,
		Variables: in.Variables,
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshaling agent request: %w", err))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = in.WorkDir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)
	cmd.Env = append(cmd.Env, tracing.Env(ctx)...)
	cmd.WaitDelay = 5 * time.Second
	cmd.Stdin = bytes.NewReader(req)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	r.logger.Debug("agent process exited",
		log.TaskIDKey, task.ID,
		log.AgentIDKey, task.Agent,
		log.AttemptKey, in.Attempt,
		log.DurationKey, time.Since(start).Milliseconds())

	if runErr != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("agent %q exited with code %d: %s",
				task.Agent, exitErr.ExitCode(), r.tail(stderr.Bytes()))
		}

		// The executable is missing or not runnable, another attempt will not help.
		return nil, Permanent(fmt.Errorf("starting agent %q: %w", task.Agent, runErr))
	}

	return decodeOutput(stdout.Bytes()), nil
}

func (r *CommandRunner) tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > r.maxStderr {
		s = "..." + s[len(s)-r.maxStderr:]
	}

	return s
}

func decodeOutput(b []byte) json.RawMessage {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return json.RawMessage("null")
	}

	if json.Valid(b) {
		return json.RawMessage(b)
	}

	s, _ := json.Marshal(string(b))
	return s
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}

	return out
}
