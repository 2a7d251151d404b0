package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Summary is a condensed, human-readable view of a run. It is what List returns and what
// terminal states carry for CLI exit codes and UI summaries.
type Summary struct {
	ID       string         `json:"id"`
	ParentID string         `json:"parent_id,omitempty"`
	Name     string         `json:"name"`
	Version  string         `json:"version,omitempty"`
	Status   WorkflowStatus `json:"status"`

	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`

	FirstFailedTask string `json:"first_failed_task,omitempty"`
	FirstError      string `json:"first_error,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	CheckpointAt time.Time `json:"checkpoint_at"`
}

// Summarize condenses the state. The first failure is the failed task that finished
// earliest, ties broken by task ID.
func (s *WorkflowState) Summarize() *Summary {
	sum := &Summary{
		ID:           s.ID,
		ParentID:     s.ParentID,
		Name:         s.Name,
		Version:      s.Version,
		Status:       s.Status,
		Total:        len(s.Tasks),
		CreatedAt:    s.CreatedAt,
		CheckpointAt: s.CheckpointAt,
	}

	var failed []string
	for id, ts := range s.Tasks {
		switch ts.Status {
		case TaskStatusCompleted:
			sum.Completed++
		case TaskStatusFailed:
			sum.Failed++
			failed = append(failed, id)
		case TaskStatusSkipped:
			sum.Skipped++
		default:
			sum.Pending++
		}
	}

	sort.Slice(failed, func(i, j int) bool {
		a, b := s.Tasks[failed[i]].FinishedAt, s.Tasks[failed[j]].FinishedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		if (a == nil) != (b == nil) {
			return a != nil
		}
		return failed[i] < failed[j]
	})

	if len(failed) > 0 {
		sum.FirstFailedTask = failed[0]
		sum.FirstError = s.Tasks[failed[0]].Error
	}

	if sum.FirstError == "" && s.Error != "" {
		sum.FirstError = s.Error
	}

	return sum
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s, %d/%d completed, %d failed, %d skipped",
		s.Name, s.ID, s.Status, s.Completed, s.Total, s.Failed, s.Skipped)

	if s.Pending > 0 {
		fmt.Fprintf(&b, ", %d pending", s.Pending)
	}

	if s.FirstError != "" {
		if s.FirstFailedTask != "" {
			fmt.Fprintf(&b, "; first failure in %q: %s", s.FirstFailedTask, s.FirstError)
		} else {
			fmt.Fprintf(&b, "; %s", s.FirstError)
		}
	}

	return b.String()
}
