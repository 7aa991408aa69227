package task

import (
	"encoding/json"
	"strings"
	"time"

	"biopatrol/pkg/apperror"
)

// Decode parses the wire shape the submission surface accepts into a
// Task. Status strings are case-insensitive on the wire ("queued" and
// "QUEUED" both parse); step statuses default to PENDING.
func Decode(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidArgument, "malformed task payload")
	}

	t.Status = Status(strings.ToUpper(string(t.Status)))
	if t.Status == "" {
		t.Status = StatusQueued
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	seen := make(map[string]bool, len(t.Steps))
	for _, s := range t.Steps {
		if s.StepID == "" {
			return nil, apperror.NewWithField(apperror.CodeInvalidArgument, "step_id is required", "step_id")
		}
		if seen[s.StepID] {
			return nil, apperror.New(apperror.CodeInvalidArgument, "duplicate step_id: "+s.StepID)
		}
		seen[s.StepID] = true
		s.Status = StepStatus(strings.ToUpper(string(s.Status)))
		if s.Status == "" {
			s.Status = StepPending
		}
	}

	return &t, nil
}

// Encode serializes a task snapshot back to the wire shape.
func Encode(t *Task) ([]byte, error) {
	return json.Marshal(t)
}
