package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func Test_Env(t *testing.T) {
	require.Empty(t, Env(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "Task: a")
	defer span.End()

	env := Env(ctx)
	require.Len(t, env, 1)
	require.Regexp(t, `^TRACEPARENT=00-`+span.SpanContext().TraceID().String()+`-`+span.SpanContext().SpanID().String()+`-01$`, env[0])
}

func Test_InjectExtract(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "Workflow: test")
	defer span.End()

	remote := trace.SpanContextFromContext(Extract(context.Background(), Inject(ctx)))
	require.True(t, remote.IsRemote())
	require.Equal(t, span.SpanContext().TraceID(), remote.TraceID())
}
