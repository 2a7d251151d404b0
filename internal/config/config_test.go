package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func Test_Load_Precedence(t *testing.T) {
	t.Setenv("DSLFLOW_EXECUTOR_MAX_PARALLEL", "8")
	t.Setenv("DSLFLOW_EXECUTOR_CONDITION_TIMEOUT", "5s")
	t.Setenv("DSLFLOW_BACKEND_TYPE", "sqlite")
	t.Setenv("DSLFLOW_LOG_LEVEL", "debug")

	cfg, err := Load(map[string]any{
		"log.level":    "warn",
		"backend.path": "runs.db",
	})
	require.NoError(t, err)

	require.Equal(t, 8, cfg.Executor.MaxParallel)
	require.Equal(t, 5*time.Second, cfg.Executor.ConditionTimeout)
	require.Equal(t, "sqlite", cfg.Backend.Type)
	require.Equal(t, "runs.db", cfg.Backend.Path)
	require.Equal(t, "warn", cfg.Log.Level)
}

func Test_Load_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{name: "unknown backend", overrides: map[string]any{"backend.type": "postgres"}},
		{name: "mysql without dsn", overrides: map[string]any{"backend.type": "mysql"}},
		{name: "redis without address", overrides: map[string]any{"backend.type": "redis"}},
		{name: "no parallelism", overrides: map[string]any{"executor.max_parallel": 0}},
		{name: "otlp without endpoint", overrides: map[string]any{"tracing.exporter": "otlp"}},
		{name: "bad duration", overrides: map[string]any{"executor.condition_timeout": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.overrides)
			require.Error(t, err)
		})
	}
}

func Test_transformEnvKey(t *testing.T) {
	key, value := transformEnvKey("DSLFLOW_BACKEND_REDIS_ADDR", "localhost:6379")
	require.Equal(t, "backend.redis_addr", key)
	require.Equal(t, "localhost:6379", value)

	key, _ = transformEnvKey("DSLFLOW_DEBUG", "1")
	require.Empty(t, key)
}
