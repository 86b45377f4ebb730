package domain

import (
	"strings"
	"time"
)

// JobKind names georeference jobs in the queue.
const JobKind = "dataspatial_georeference"

// JobArgs is the payload of a georeference job.
type JobArgs struct {
	ResourceID     string    `json:"resource_id"`
	JobCreated     time.Time `json:"job_created"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
}

// Validate checks the args name a resource.
func (a JobArgs) Validate() error {
	if strings.TrimSpace(a.ResourceID) == "" {
		return &ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	return nil
}

// Timeout returns the job timeout, zero meaning the queue default.
func (a JobArgs) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Job is a dequeued unit of work.
type Job struct {
	ID   string
	Args JobArgs
}

// StatusUpdate is a state transition reported by a running job.
type StatusUpdate struct {
	ResourceID string     `json:"resource_id"`
	JobID      string     `json:"job_id,omitempty"`
	JobCreated time.Time  `json:"job_created"`
	State      TaskState  `json:"status"`
	Value      *TaskValue `json:"value,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Validate checks the update names a resource and a state a job may
// report: working, complete or error.
func (u StatusUpdate) Validate() error {
	if strings.TrimSpace(u.ResourceID) == "" {
		return &ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	state, err := ParseTaskState(string(u.State))
	if err != nil {
		return err
	}
	switch state {
	case StateWorking, StateComplete, StateError:
		return nil
	default:
		return &ValidationError{
			Field:      "status",
			Value:      u.State,
			Constraint: "working|complete|error",
			Message:    "jobs may only report working, complete or error",
		}
	}
}

// SubmitOutcome is the result of a submission attempt. Skips and queue
// failures are outcomes, not errors.
type SubmitOutcome string

// Submission outcomes.
const (
	OutcomeSubmitted SubmitOutcome = "submitted"
	OutcomeSkipped   SubmitOutcome = "skipped"
	OutcomeFailed    SubmitOutcome = "failed"
)

// SubmitResult reports what Submit did.
type SubmitResult struct {
	ResourceID string        `json:"resource_id"`
	Outcome    SubmitOutcome `json:"outcome"`
	TaskID     string        `json:"task_id,omitempty"`
	JobID      string        `json:"job_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// Submitted reports whether a job was enqueued.
func (r *SubmitResult) Submitted() bool {
	return r.Outcome == OutcomeSubmitted
}

// PopulateRequest asks for an immediate population run, optionally
// updating the source field names first.
type PopulateRequest struct {
	ResourceID     string `json:"resource_id"`
	LatitudeField  string `json:"latitude_field,omitempty"`
	LongitudeField string `json:"longitude_field,omitempty"`
	WKTField       string `json:"wkt_field,omitempty"`
}

// Patch returns the field changes the request makes to r.
func (p PopulateRequest) Patch(r *Resource) ResourcePatch {
	var patch ResourcePatch
	if p.LatitudeField != "" && p.LatitudeField != r.LatitudeField {
		patch.LatitudeField = &p.LatitudeField
	}
	if p.LongitudeField != "" && p.LongitudeField != r.LongitudeField {
		patch.LongitudeField = &p.LongitudeField
	}
	if p.WKTField != "" && p.WKTField != r.WKTField {
		patch.WKTField = &p.WKTField
	}
	return patch
}

// DatastorePushEvent announces a finished datastore load.
type DatastorePushEvent struct {
	ResourceID string `json:"resource_id"`
	Status     string `json:"status"`
	JobType    string `json:"job_type"`
}

// JobTypePushToDatastore is the job type of datastore loads.
const JobTypePushToDatastore = "push_to_datastore"

// Completed reports whether the event is a successful datastore load.
func (e DatastorePushEvent) Completed() bool {
	return strings.EqualFold(e.Status, string(StateComplete)) && e.JobType == JobTypePushToDatastore
}
