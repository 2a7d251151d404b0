package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func Test_Handler(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name string
		f    func(l *slog.Logger)
		want string
	}{
		{
			name: "message and attributes",
			f: func(l *slog.Logger) {
				l.Info("run started", "dslflow.run.id", "abc", "max_parallel", 4)
			},
			want: "|INFO| run started                    dslflow.run.id=abc max_parallel=4\n",
		},
		{
			name: "with attributes and groups",
			f: func(l *slog.Logger) {
				l.With("run", "abc").WithGroup("task").Warn("retrying", "id", "b", slog.Group("backoff", "ms", 1000))
			},
			want: "|WARN| retrying                       run=abc task.id=b task.backoff.ms=1000\n",
		},
		{
			name: "below level",
			f: func(l *slog.Logger) {
				l.Debug("dispatching task")
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.f(slog.New(NewHandler(&buf, nil)))

			require.Equal(t, tt.want, buf.String())
		})
	}
}
