package executor

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	mi "github.com/cschleiden/go-dslflow/internal/metrics"
	"github.com/cschleiden/go-dslflow/metrics"
	"github.com/cschleiden/go-dslflow/subflow"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	Clock clock.Clock

	// MaxParallelTasks bounds the number of task attempts running at the same time within
	// one run. Nested runs have their own bound.
	MaxParallelTasks int

	// WorkDir is the directory agents and condition commands run in.
	WorkDir string

	// ConditionTimeout bounds every command run by a condition.
	ConditionTimeout time.Duration

	// Shell is the command prefix condition commands are passed to.
	Shell string

	// Subflows resolves subflow references. Tasks referencing a subflow fail if nil.
	Subflows subflow.Resolver

	// EventBuffer is the capacity of a run's event channel. Events that do not fit are
	// dropped.
	EventBuffer int

	// NewRunID generates IDs for new runs.
	NewRunID func() string
}

var DefaultOptions = Options{
	Logger:           slog.Default(),
	Metrics:          mi.NewNoopMetricsClient(),
	TracerProvider:   noop.NewTracerProvider(),
	Clock:            clock.New(),
	MaxParallelTasks: 4,
	ConditionTimeout: 30 * time.Second,
	EventBuffer:      1024,
	NewRunID:         uuid.NewString,
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) Option {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

func WithMaxParallelTasks(n int) Option {
	return func(o *Options) {
		o.MaxParallelTasks = n
	}
}

func WithWorkDir(dir string) Option {
	return func(o *Options) {
		o.WorkDir = dir
	}
}

func WithConditionTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ConditionTimeout = d
	}
}

func WithShell(shell string) Option {
	return func(o *Options) {
		o.Shell = shell
	}
}

func WithSubflowResolver(r subflow.Resolver) Option {
	return func(o *Options) {
		o.Subflows = r
	}
}

func WithEventBuffer(n int) Option {
	return func(o *Options) {
		o.EventBuffer = n
	}
}

func WithRunIDGenerator(f func() string) Option {
	return func(o *Options) {
		o.NewRunID = f
	}
}

func ApplyOptions(opts ...Option) Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.Clock == nil {
		options.Clock = clock.New()
	}

	if options.MaxParallelTasks < 1 {
		options.MaxParallelTasks = 1
	}

	if options.EventBuffer < 0 {
		options.EventBuffer = 0
	}

	return options
}

// RunOptions configure a single run.
type RunOptions struct {
	// ID of the run. Generated if empty.
	ID string

	// Inputs override workflow-scoped variables of the definition.
	Inputs map[string]any
}

type RunOption func(*RunOptions)

func WithRunID(id string) RunOption {
	return func(o *RunOptions) {
		o.ID = id
	}
}

func WithInputs(inputs map[string]any) RunOption {
	return func(o *RunOptions) {
		o.Inputs = inputs
	}
}
