package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/internal/config"
	"github.com/cschleiden/go-dslflow/internal/logger"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"backend":           "backend.type",
	"state":             "backend.path",
	"mysql-dsn":         "backend.dsn",
	"redis-addr":        "backend.redis_addr",
	"redis-db":          "backend.redis_db",
	"key-prefix":        "backend.key_prefix",
	"max-parallel":      "executor.max_parallel",
	"workdir":           "executor.work_dir",
	"condition-timeout": "executor.condition_timeout",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"trace-exporter":    "tracing.exporter",
	"trace-endpoint":    "tracing.endpoint",
	"addr":              "diag.addr",
	"subflows":          "subflows.dir",
}

// app holds what commands share once the configuration has been loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	backend backend.Backend

	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "dslflow",
		Short:         "Run agent workflows defined in YAML",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	d := config.Default()
	f := cmd.PersistentFlags()
	f.String("backend", d.Backend.Type, "state backend: memory, file, sqlite, mysql or redis")
	f.String("state", d.Backend.Path, "state directory (file) or database file (sqlite)")
	f.String("mysql-dsn", "", "MySQL data source name, user:password@tcp(host:port)/database")
	f.String("redis-addr", "", "Redis address, host:port")
	f.Int("redis-db", 0, "Redis database")
	f.String("key-prefix", "", "prefix for Redis keys")
	f.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	f.String("log-format", d.Log.Format, "log format: pretty, text or json")
	f.String("trace-exporter", d.Tracing.Exporter, "trace exporter: none, stdout or otlp")
	f.String("trace-endpoint", "", "OTLP/HTTP endpoint, host:port")

	cmd.AddCommand(
		newRunCommand(a),
		newResumeCommand(a),
		newStatusCommand(a),
		newListCommand(a),
		newDeleteCommand(a),
		newServeCommand(a),
	)

	return cmd
}

// addExecutorFlags registers the flags of commands that execute workflows.
func addExecutorFlags(f *pflag.FlagSet) {
	d := config.Default()
	f.Int("max-parallel", d.Executor.MaxParallel, "maximum number of tasks running at the same time")
	f.String("workdir", "", "working directory of agents and conditions (default: current directory)")
	f.Duration("condition-timeout", d.Executor.ConditionTimeout, "timeout for evaluating a condition")
	f.String("subflows", "", "directory with subflow definitions (default: directory of the workflow file)")
}

func (a *app) setup(cmd *cobra.Command) error {
	overrides := map[string]any{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})

	cfg, err := config.Load(overrides)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(a.logger)

	a.tp, a.shutdown, err = newTracerProvider(cmd.Context(), cfg.Tracing)
	if err != nil {
		return err
	}

	a.backend, err = openBackend(cfg.Backend, a.logger, a.tp)
	if err != nil {
		return fmt.Errorf("opening %s backend: %w", cfg.Backend.Type, err)
	}

	return nil
}

func (a *app) close(ctx context.Context) error {
	var err error
	if a.backend != nil {
		err = a.backend.Close()
	}

	if a.shutdown != nil {
		if serr := a.shutdown(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}

	return err
}

func newLogger(cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	var h slog.Handler
	switch cfg.Format {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		h = logger.NewHandler(os.Stderr, &logger.Options{Level: level, TimeFormat: "15:04:05"})
	}

	return slog.New(h), nil
}
