package output

import (
	"context"
	"time"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID string
}

// QueuedJob is a job waiting or running in the queue. Description is opaque;
// it only has to mention the resource id somewhere.
type QueuedJob struct {
	ID          string
	Description string
}

// JobQueue is the durable work queue running georeference jobs.
type JobQueue interface {
	// Enqueue schedules a job that is cancelled after timeout.
	Enqueue(ctx context.Context, args domain.JobArgs, timeout time.Duration) (JobHandle, error)

	// ListQueuedJobs returns jobs not yet finished.
	ListQueuedJobs(ctx context.Context) ([]QueuedJob, error)
}

// StatusCallback receives the state transitions of one running job.
// Every call carries all three parts; unused ones are nil or empty.
type StatusCallback interface {
	Report(ctx context.Context, state domain.TaskState, value *domain.TaskValue, errText string) error
}

// StatusFunc adapts a function to StatusCallback.
type StatusFunc func(ctx context.Context, state domain.TaskState, value *domain.TaskValue, errText string) error

// Report implements StatusCallback.
func (f StatusFunc) Report(ctx context.Context, state domain.TaskState, value *domain.TaskValue, errText string) error {
	return f(ctx, state, value, errText)
}

// DiscardStatus drops every report.
var DiscardStatus StatusCallback = StatusFunc(func(context.Context, domain.TaskState, *domain.TaskValue, string) error {
	return nil
})
