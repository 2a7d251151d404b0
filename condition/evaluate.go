package condition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/shlex"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultShell   = "/bin/sh -c"
)

// Context is the read-only environment a condition is evaluated against.
type Context struct {
	// WorkDir is the directory commands run in and relative paths resolve against.
	WorkDir string

	// Env holds additional KEY=VALUE pairs for commands and path expansion. Captured task
	// outputs are exposed this way, see EnvFromVariables.
	Env []string

	// Timeout bounds every command run. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Shell is the command prefix commands are passed to, split with shell quoting rules.
	// Defaults to DefaultShell.
	Shell string
}

func (ec *Context) timeout() time.Duration {
	if ec == nil || ec.Timeout <= 0 {
		return DefaultTimeout
	}

	return ec.Timeout
}

func (ec *Context) lookupEnv(key string) string {
	if ec != nil {
		// Later entries win, like exec.Cmd.Env
		for i := len(ec.Env) - 1; i >= 0; i-- {
			k, v, ok := strings.Cut(ec.Env[i], "=")
			if ok && k == key {
				return v
			}
		}
	}

	return os.Getenv(key)
}

// Evaluate evaluates the condition tree. A false result and an error are distinct: a
// command exiting non-zero is false, a command that cannot be started is an error.
func Evaluate(ctx context.Context, c *Condition, ec *Context) (bool, error) {
	if c == nil {
		return false, malformed(c, "nil condition")
	}

	switch c.Kind {
	case KindAlways:
		return true, nil

	case KindNever:
		return false, nil

	case KindAnd:
		for _, child := range c.Children {
			ok, err := Evaluate(ctx, child, ec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case KindOr:
		for _, child := range c.Children {
			ok, err := Evaluate(ctx, child, ec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case KindNot:
		if len(c.Children) != 1 {
			return false, malformed(c, "not requires exactly one operand, got %d", len(c.Children))
		}
		ok, err := Evaluate(ctx, c.Children[0], ec)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case KindFileExists:
		return fileExists(c, ec)

	case KindCommandSucceeds:
		return commandSucceeds(ctx, c, ec)

	case KindOutputMatches:
		return outputMatches(ctx, c, ec)
	}

	return false, malformed(c, "unknown condition kind %q", c.Kind)
}

func fileExists(c *Condition, ec *Context) (bool, error) {
	if strings.TrimSpace(c.Path) == "" {
		return false, malformed(c, "file_exists requires a path")
	}

	p := os.Expand(c.Path, ec.lookupEnv)
	if !filepath.IsAbs(p) && ec != nil && ec.WorkDir != "" {
		p = filepath.Join(ec.WorkDir, p)
	}

	_, err := os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, &EvaluationError{Kind: ErrorKindIO, Condition: c.String(), Err: err}
	}
}

func commandSucceeds(ctx context.Context, c *Condition, ec *Context) (bool, error) {
	cmd, tctx, cancel, err := command(ctx, c, ec)
	if err != nil {
		return false, err
	}
	defer cancel()

	runErr := cmd.Run()
	if runErr == nil {
		return true, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return false, &EvaluationError{Kind: ErrorKindTimeout, Condition: c.String(), Err: runErr}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return false, nil
	}

	return false, &EvaluationError{Kind: ErrorKindSpawn, Condition: c.String(), Err: runErr}
}

func outputMatches(ctx context.Context, c *Condition, ec *Context) (bool, error) {
	re, err := compilePattern(c.Pattern)
	if err != nil {
		return false, malformed(c, "invalid pattern: %v", err)
	}

	cmd, tctx, cancel, err := command(ctx, c, ec)
	if err != nil {
		return false, err
	}
	defer cancel()

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if runErr := cmd.Run(); runErr != nil {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		var exitErr *exec.ExitError
		switch {
		case errors.Is(tctx.Err(), context.DeadlineExceeded):
			// A command that does not finish in time produced no usable output.
			return false, nil
		case errors.As(runErr, &exitErr):
			// Exit status is irrelevant, only the output is matched.
		default:
			return false, &EvaluationError{Kind: ErrorKindSpawn, Condition: c.String(), Err: runErr}
		}
	}

	return re.Match(stdout.Bytes()), nil
}

// command prepares the shell invocation for a command condition. The returned context
// carries the per-command timeout, cancel releases it.
func command(ctx context.Context, c *Condition, ec *Context) (*exec.Cmd, context.Context, context.CancelFunc, error) {
	if strings.TrimSpace(c.Command) == "" {
		return nil, nil, nil, malformed(c, "%s requires a command", c.Kind)
	}

	shell := DefaultShell
	if ec != nil && ec.Shell != "" {
		shell = ec.Shell
	}

	argv, err := shlex.Split(shell)
	if err != nil || len(argv) == 0 {
		return nil, nil, nil, malformed(c, "invalid shell %q", shell)
	}

	tctx, cancel := context.WithTimeout(ctx, ec.timeout())

	cmd := exec.CommandContext(tctx, argv[0], append(argv[1:], c.Command)...)
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	if ec != nil {
		cmd.Dir = ec.WorkDir
		cmd.Env = append(cmd.Env, ec.Env...)
	}

	return cmd, tctx, cancel, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	return regexp.Compile(pattern)
}
