package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/diag"
	"github.com/cschleiden/go-dslflow/log"
)

var errStillRunning = errors.New("run is still running")

func newStatusCommand(a *app) *cobra.Command {
	var wait time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.backend.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if wait > 0 && state.Status == core.WorkflowStatusRunning {
				state, err = waitForRun(cmd.Context(), a.backend, args[0], wait)
				if err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(state); err != nil {
					return err
				}
			} else {
				printState(os.Stdout, state)
			}

			return exitFor(state.Status)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for a running run to end or pause")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full checkpoint as JSON")

	return cmd
}

// waitForRun polls the checkpoint of a run, backing off exponentially, until it is no
// longer running or the timeout elapsed.
func waitForRun(ctx context.Context, b backend.Backend, id string, timeout time.Duration) (*core.WorkflowState, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout

	var state *core.WorkflowState
	err := backoff.Retry(func() error {
		var err error
		state, err = b.Load(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}

		if state.Status == core.WorkflowStatusRunning {
			return errStillRunning
		}

		return nil
	}, backoff.WithContext(bo, ctx))

	if errors.Is(err, errStillRunning) {
		return state, nil
	}

	return state, err
}

func printState(w io.Writer, state *core.WorkflowState) {
	s := state.Summarize()
	fmt.Fprintln(w, s.String())
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tATTEMPTS\tDETAIL")
	for _, id := range slices.Sorted(maps.Keys(state.Tasks)) {
		ts := state.Tasks[id]

		detail := ts.Error
		switch {
		case ts.Status == core.TaskStatusSkipped:
			detail = string(ts.SkipReason)
		case ts.Fallback != "":
			detail = "fallback: " + ts.Fallback
		case ts.RetryAt != nil:
			detail = "retry at " + ts.RetryAt.Local().Format(time.TimeOnly)
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", id, ts.Status, ts.Attempts, detail)
	}
	tw.Flush()
}

func newListCommand(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summaries, err := a.backend.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORKFLOW\tSTATUS\tTASKS\tCREATED")
			for _, s := range summaries {
				if s.ParentID != "" && !all {
					continue
				}

				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
					s.ID, s.Name, s.Status, s.Completed, s.Total, s.CreatedAt.Local().Format(time.DateTime))
			}

			return tw.Flush()
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include nested runs")

	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete runs and their nested runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := a.backend.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting run %q: %w", id, err)
				}

				a.logger.Info("run deleted", log.RunIDKey, id)
			}

			return nil
		},
	}
}

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diagnostics API over stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              a.cfg.Diag.Addr,
				Handler:           diag.NewServeMux(a.backend, a.logger),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				<-ctx.Done()

				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()

				if err := srv.Shutdown(sctx); err != nil {
					a.logger.Error("shutting down diagnostics server", "error", err)
				}
			}()

			a.logger.Info("serving diagnostics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address")

	return cmd
}
