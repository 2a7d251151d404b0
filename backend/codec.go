package backend

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cschleiden/go-dslflow/core"
)

// Encode serializes a state into the versioned checkpoint format.
func Encode(state *core.WorkflowState) ([]byte, error) {
	if state.SchemaVersion == 0 {
		state = state.Clone()
		state.SchemaVersion = core.SchemaVersion
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding workflow state: %w", err)
	}

	return data, nil
}

// Decode parses a checkpoint. Any problem with the data is reported as a
// CorruptStateError for id.
func Decode(id string, data []byte) (*core.WorkflowState, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, &CorruptStateError{ID: id, Err: err}
	}

	if header.SchemaVersion < 1 || header.SchemaVersion > core.SchemaVersion {
		return nil, &CorruptStateError{
			ID:  id,
			Err: fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.SchemaVersion),
		}
	}

	state := &core.WorkflowState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, &CorruptStateError{ID: id, Err: err}
	}

	if err := validate(id, state); err != nil {
		return nil, &CorruptStateError{ID: id, Err: err}
	}

	if state.Variables == nil {
		state.Variables = map[string]json.RawMessage{}
	}

	return state, nil
}

func validate(id string, state *core.WorkflowState) error {
	if state.ID != id {
		return fmt.Errorf("checkpoint belongs to run %q", state.ID)
	}

	switch state.Status {
	case core.WorkflowStatusInitializing, core.WorkflowStatusRunning, core.WorkflowStatusPaused,
		core.WorkflowStatusCompleted, core.WorkflowStatusFailed, core.WorkflowStatusCancelled:
	default:
		return fmt.Errorf("unknown workflow status %q", state.Status)
	}

	if state.Tasks == nil {
		return errors.New("checkpoint has no tasks")
	}

	for taskID, ts := range state.Tasks {
		if ts == nil {
			return fmt.Errorf("task %q has no state", taskID)
		}

		switch ts.Status {
		case core.TaskStatusPending, core.TaskStatusReady, core.TaskStatusRunning,
			core.TaskStatusCompleted, core.TaskStatusFailed, core.TaskStatusSkipped:
		default:
			return fmt.Errorf("task %q has unknown status %q", taskID, ts.Status)
		}

		if ts.Attempts < 0 {
			return fmt.Errorf("task %q has negative attempts", taskID)
		}
	}

	return nil
}
