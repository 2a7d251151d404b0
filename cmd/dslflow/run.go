package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/cschleiden/go-dslflow/agent"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/diag"
	"github.com/cschleiden/go-dslflow/event"
	"github.com/cschleiden/go-dslflow/executor"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/metrics/otelmetrics"
	"github.com/cschleiden/go-dslflow/subflow"
	"github.com/cschleiden/go-dslflow/workflow"
)

type runFlags struct {
	id     string
	inputs []string
	serve  bool
	quiet  bool
}

func newRunCommand(a *app) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Start a new run of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(rf.inputs)
			if err != nil {
				return err
			}

			opts := []executor.RunOption{executor.WithInputs(inputs)}
			if rf.id != "" {
				opts = append(opts, executor.WithRunID(rf.id))
			}

			return a.execute(cmd.Context(), args[0], rf, func(ctx context.Context, e *executor.Executor, def *workflow.Definition) (*executor.Run, error) {
				return e.Start(ctx, def, opts...)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&rf.id, "id", "", "run ID (default: random UUID)")
	f.StringArrayVarP(&rf.inputs, "input", "i", nil, "workflow input as name=value, value is parsed as JSON if possible")
	addRunFlags(cmd, &rf)

	return cmd
}

func newResumeCommand(a *app) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "resume <workflow.yaml> <run-id>",
		Short: "Resume a paused or interrupted run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd.Context(), args[0], rf, func(ctx context.Context, e *executor.Executor, def *workflow.Definition) (*executor.Run, error) {
				return e.Resume(ctx, def, args[1])
			})
		},
	}

	addRunFlags(cmd, &rf)

	return cmd
}

func addRunFlags(cmd *cobra.Command, rf *runFlags) {
	f := cmd.Flags()
	f.BoolVar(&rf.serve, "serve", false, "serve the diagnostics API while the run is active")
	f.String("addr", "", "listen address of the diagnostics API")
	f.BoolVarP(&rf.quiet, "quiet", "q", false, "do not print progress events")
	addExecutorFlags(f)
}

func parseInputs(raw []string) (map[string]any, error) {
	inputs := map[string]any{}
	for _, in := range raw {
		name, value, ok := strings.Cut(in, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid input %q, expected name=value", in)
		}

		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		inputs[name] = v
	}

	return inputs, nil
}

// newExecutor returns the executor for the definition at path and, with caching
// enabled, the function running the subflow cache eviction until its context is done.
func (a *app) newExecutor(path string, def *workflow.Definition) (*executor.Executor, func(context.Context), error) {
	workDir, err := a.cfg.WorkDir()
	if err != nil {
		return nil, nil, err
	}

	mc := otelmetrics.New(otel.GetMeterProvider().Meter("dslflow"), func(err error) {
		a.logger.Warn("creating metric instrument", "error", err)
	})

	dir := a.cfg.Subflows.Dir
	if dir == "" {
		dir = filepath.Dir(path)
	}

	var resolver subflow.Resolver = workflow.NewFileResolver(dir)
	var evict func(context.Context)
	if a.cfg.Subflows.CacheSize > 0 {
		c := subflow.NewCachingResolver(resolver, mc, a.cfg.Subflows.CacheSize, a.cfg.Subflows.CacheTTL)
		evict = c.StartEviction
		resolver = c
	}

	e := executor.New(a.backend, agent.NewCommandRunner(def.Agents, a.logger),
		executor.WithLogger(a.logger),
		executor.WithMetrics(mc),
		executor.WithTracerProvider(a.tp),
		executor.WithMaxParallelTasks(a.cfg.Executor.MaxParallel),
		executor.WithWorkDir(workDir),
		executor.WithConditionTimeout(a.cfg.Executor.ConditionTimeout),
		executor.WithShell(a.cfg.Executor.Shell),
		executor.WithEventBuffer(a.cfg.Executor.EventBuffer),
		executor.WithSubflowResolver(resolver),
	)

	return e, evict, nil
}

func (a *app) execute(ctx context.Context, path string, rf runFlags, begin func(context.Context, *executor.Executor, *workflow.Definition) (*executor.Run, error)) error {
	def, err := workflow.ParseFile(path)
	if err != nil {
		return err
	}

	e, evict, err := a.newExecutor(path, def)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if evict != nil {
		go evict(ctx)
	}

	r, err := begin(ctx, e, def)
	if err != nil {
		return err
	}

	a.logger.Info("run started", log.RunIDKey, r.ID, log.WorkflowKey, def.Name)

	sigC := make(chan os.Signal, 2)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigC)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		interrupts := 0
		for {
			select {
			case <-sigC:
				interrupts++
				if interrupts == 1 {
					a.logger.Warn("pausing run after in-flight tasks, interrupt again to cancel", log.RunIDKey, r.ID)
					r.Pause()
				} else {
					a.logger.Warn("cancelling run", log.RunIDKey, r.ID)
					r.Cancel()
				}
			case <-r.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		out := io.Writer(os.Stdout)
		if rf.quiet {
			out = io.Discard
		}

		for ev := range r.Events() {
			printEvent(out, ev)
		}

		return nil
	})

	if rf.serve {
		srv := &http.Server{
			Addr:              a.cfg.Diag.Addr,
			Handler:           diag.NewServeMux(a.backend, a.logger),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			a.logger.Info("serving diagnostics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving diagnostics: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			select {
			case <-r.Done():
			case <-gctx.Done():
			}

			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			return srv.Shutdown(sctx)
		})
	}

	summary, werr := r.Wait(context.Background())

	if err := g.Wait(); err != nil {
		a.logger.Error("run", "error", err)
	}

	if werr != nil {
		return werr
	}

	fmt.Fprintln(os.Stderr, summary.String())

	return exitFor(summary.Status)
}

func exitFor(status core.WorkflowStatus) error {
	switch status {
	case core.WorkflowStatusCompleted:
		return nil
	case core.WorkflowStatusPaused, core.WorkflowStatusRunning:
		return &exitCodeError{code: exitPaused}
	case core.WorkflowStatusCancelled:
		return &exitCodeError{code: exitCancelled}
	default:
		return &exitCodeError{code: exitFailed}
	}
}

func printEvent(w io.Writer, ev event.Event) {
	fmt.Fprintf(w, "%s %s\n", ev.At.Format("15:04:05"), ev.String())
}
