package backend

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cschleiden/go-dslflow/core"
	"github.com/stretchr/testify/require"
)

func Test_Codec_RoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := core.NewWorkflowState("run-1", "release", "2", "abc", []string{"build", "test"}, now)
	s.Status = core.WorkflowStatusRunning
	s.Tasks["build"].Status = core.TaskStatusCompleted
	s.Tasks["build"].Attempts = 2
	s.Tasks["build"].FinishedAt = &now
	s.Tasks["build"].Result = json.RawMessage(`{"artifact":"bin/app"}`)
	s.Bind("task.build.artifact", json.RawMessage(`"bin/app"`))

	data, err := Encode(s)
	require.NoError(t, err)

	decoded, err := Decode("run-1", data)
	require.NoError(t, err)
	require.Equal(t, s, decoded)

	again, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)
}

func Test_Codec_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", `{"schema_`},
		{"missing version", `{"id":"run","status":"running","tasks":{}}`},
		{"wrong id", `{"schema_version":1,"id":"other","status":"running","tasks":{}}`},
		{"unknown status", `{"schema_version":1,"id":"run","status":"exploded","tasks":{}}`},
		{"no tasks", `{"schema_version":1,"id":"run","status":"running"}`},
		{"unknown task status", `{"schema_version":1,"id":"run","status":"running","tasks":{"a":{"status":"meh"}}}`},
		{"null task", `{"schema_version":1,"id":"run","status":"running","tasks":{"a":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("run", []byte(tt.data))

			var corruptErr *CorruptStateError
			require.ErrorAs(t, err, &corruptErr)
			require.Equal(t, "run", corruptErr.ID)
		})
	}
}

func Test_Codec_FutureVersion(t *testing.T) {
	_, err := Decode("run", []byte(`{"schema_version":99,"id":"run","status":"running","tasks":{}}`))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func Test_Covers(t *testing.T) {
	require.True(t, Covers("run", "run"))
	require.True(t, Covers("run", "run/review"))
	require.True(t, Covers("run", "run/review/lint"))
	require.False(t, Covers("run", "run-2"))
	require.False(t, Covers("run/review", "run"))
}

func Test_NotFoundError(t *testing.T) {
	var err error = &NotFoundError{ID: "x"}
	require.ErrorIs(t, err, ErrNotFound)
}
