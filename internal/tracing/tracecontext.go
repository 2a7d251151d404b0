// Package tracing hands the trace context of a task attempt to agent processes.
package tracing

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

// Carrier holds W3C trace context headers.
type Carrier map[string]string

func (c Carrier) Get(key string) string {
	return c[key]
}

func (c Carrier) Set(key string, value string) {
	c[key] = value
}

func (c Carrier) Keys() []string {
	r := make([]string, 0, len(c))

	for k := range c {
		r = append(r, k)
	}

	return r
}

var propagator propagation.TraceContext

// Inject returns the trace context of the span in ctx. It is empty if ctx carries no
// valid span.
func Inject(ctx context.Context) Carrier {
	carrier := make(Carrier)
	propagator.Inject(ctx, carrier)
	return carrier
}

// Extract returns ctx with the remote span context described by the carrier.
func Extract(ctx context.Context, c Carrier) context.Context {
	return propagator.Extract(ctx, c)
}

// Env returns the trace context of ctx as environment variables, TRACEPARENT and
// TRACESTATE, the names OpenTelemetry SDKs read when a process is started from a traced
// parent.
func Env(ctx context.Context) []string {
	c := Inject(ctx)

	keys := c.Keys()
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, strings.ToUpper(k)+"="+c[k])
	}

	return env
}
