package domain

import (
	"fmt"
	"strings"
	"time"
)

// Task identity for georeference jobs in the task status store.
const (
	TaskType           = "dataspatial"
	TaskKey            = "dataspatial"
	EntityTypeResource = "resource"
)

// TaskState is the state of a georeference task.
type TaskState string

// Task states. StateNotStarted is never stored; it is reported when a
// resource has no task at all.
const (
	StateNotStarted TaskState = "not_started"
	StateSubmitting TaskState = "submitting"
	StatePending    TaskState = "pending"
	StateWorking    TaskState = "working"
	StateComplete   TaskState = "complete"
	StateError      TaskState = "error"
)

// ParseTaskState parses a state name, accepting either case.
func ParseTaskState(s string) (TaskState, error) {
	state := TaskState(strings.ToLower(strings.TrimSpace(s)))
	switch state {
	case StateNotStarted, StateSubmitting, StatePending, StateWorking, StateComplete, StateError:
		return state, nil
	}
	return "", &ValidationError{
		Field:      "status",
		Value:      s,
		Constraint: "submitting, pending, working, complete, error",
		Message:    "unknown task state",
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s TaskState) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// Status returns the upper-case status label exposed to API clients.
func (s TaskState) Status() string {
	return strings.ToUpper(string(s))
}

// Description returns a human readable caption for the state.
func (s TaskState) Description() string {
	switch s {
	case StateComplete:
		return "Complete"
	case StatePending:
		return "Pending"
	case StateSubmitting:
		return "Submitting"
	case StateWorking:
		return "Working"
	case StateError:
		return "Error"
	case StateNotStarted, "":
		return "Not Uploaded Yet"
	default:
		return string(s)
	}
}

// TaskValue is the JSON payload stored with a task.
type TaskValue struct {
	JobID         string `json:"job_id,omitempty"`
	RowsCompleted *int64 `json:"rows_completed,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Task is the persisted status record of the georeference job for one
// resource. There is at most one per resource; resubmission overwrites it.
type Task struct {
	ID          string
	EntityID    string
	EntityType  string
	TaskType    string
	Key         string
	State       TaskState
	LastUpdated time.Time
	Value       TaskValue
	Error       string
}

// NewTask returns a task for resourceID in the submitting state.
func NewTask(id, resourceID string, now time.Time) *Task {
	return &Task{
		ID:          id,
		EntityID:    resourceID,
		EntityType:  EntityTypeResource,
		TaskType:    TaskType,
		Key:         TaskKey,
		State:       StateSubmitting,
		LastUpdated: now,
	}
}

// Age returns how long ago the task was last updated.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.LastUpdated)
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("task %s (%s, %s)", t.ID, t.EntityID, t.State)
}

// StatusReport is the externally visible status of a resource's job.
type StatusReport struct {
	ResourceID    string     `json:"resource_id"`
	JobID         string     `json:"job_id,omitempty"`
	Status        string     `json:"status"`
	Description   string     `json:"description"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	RowsCompleted *int64     `json:"rows_completed,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// NotStartedReport is reported for resources without a task.
func NotStartedReport(resourceID string) StatusReport {
	return StatusReport{
		ResourceID:  resourceID,
		Status:      StateNotStarted.Status(),
		Description: StateNotStarted.Description(),
	}
}

// Report builds the status report for the task.
func (t *Task) Report() StatusReport {
	updated := t.LastUpdated
	return StatusReport{
		ResourceID:    t.EntityID,
		JobID:         t.Value.JobID,
		Status:        t.State.Status(),
		Description:   t.State.Description(),
		LastUpdated:   &updated,
		RowsCompleted: t.Value.RowsCompleted,
		Notes:         t.Value.Notes,
		Error:         t.Error,
	}
}
