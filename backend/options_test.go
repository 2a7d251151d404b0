package backend

import (
	"log/slog"
	"testing"

	mi "github.com/cschleiden/go-dslflow/internal/metrics"
	"github.com/stretchr/testify/assert"
)

func TestDefaultValues(t *testing.T) {
	opts := ApplyOptions()

	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.Metrics)
	assert.NotNil(t, opts.TracerProvider)
}

func TestWithLogger(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	opts := ApplyOptions(WithLogger(logger))

	assert.Same(t, logger, opts.Logger)
}

func TestWithNilLogger(t *testing.T) {
	opts := ApplyOptions(WithLogger(nil))

	assert.NotNil(t, opts.Logger)
}

func TestWithMetrics(t *testing.T) {
	r := mi.NewRecorder()

	opts := ApplyOptions(WithMetrics(r))

	assert.Same(t, r, opts.Metrics)
}
