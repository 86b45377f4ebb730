package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/input"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// DefaultMemoryCapacity bounds the number of jobs waiting in a MemoryQueue.
const DefaultMemoryCapacity = 1024

// MemoryQueue runs jobs in-process. Jobs are lost on restart; it serves
// single-node deployments and tests.
type MemoryQueue struct {
	runner     input.JobRunner
	workers    int
	jobTimeout time.Duration
	logger     *slog.Logger

	jobs chan domain.Job

	mu      sync.Mutex
	pending map[string]domain.JobArgs
	order   []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ output.JobQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a MemoryQueue. Jobs queue up until Start is called.
func NewMemoryQueue(runner input.JobRunner, workers int, jobTimeout time.Duration, logger *slog.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 1
	}
	return &MemoryQueue{
		runner:     runner,
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger,
		jobs:       make(chan domain.Job, DefaultMemoryCapacity),
		pending:    make(map[string]domain.JobArgs),
	}
}

// Enqueue implements output.JobQueue.
func (q *MemoryQueue) Enqueue(_ context.Context, args domain.JobArgs, timeout time.Duration) (output.JobHandle, error) {
	if err := args.Validate(); err != nil {
		return output.JobHandle{}, err
	}
	if timeout > 0 {
		args.TimeoutSeconds = int(timeout / time.Second)
	}

	job := domain.Job{ID: uuid.NewString(), Args: args}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.jobs <- job:
	default:
		return output.JobHandle{}, fmt.Errorf("%d jobs waiting: %w", len(q.jobs), domain.ErrQueueUnavailable)
	}
	q.pending[job.ID] = args
	q.order = append(q.order, job.ID)

	return output.JobHandle{ID: job.ID}, nil
}

// ListQueuedJobs implements output.JobQueue.
func (q *MemoryQueue) ListQueuedJobs(_ context.Context) ([]output.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]output.QueuedJob, 0, len(q.order))
	for _, id := range q.order {
		jobs = append(jobs, output.QueuedJob{ID: id, Description: describe(q.pending[id])})
	}
	return jobs, nil
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (q *MemoryQueue) Start(ctx context.Context) error {
	ctx, q.cancel = context.WithCancel(ctx)

	q.logger.Info("starting job queue", "backend", "memory", "workers", q.workers)
	for range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.work(ctx)
		}()
	}
	return nil
}

// Stop cancels running jobs and waits for the workers to exit.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.run(ctx, job)
		}
	}
}

func (q *MemoryQueue) run(ctx context.Context, job domain.Job) {
	defer q.finish(job.ID)

	timeout := job.Args.Timeout()
	if timeout <= 0 {
		timeout = q.jobTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := q.runner.Run(ctx, job); err != nil {
		q.logger.Warn("job failed",
			"job_id", job.ID,
			"resource_id", job.Args.ResourceID,
			"error", err,
		)
	}
}

func (q *MemoryQueue) finish(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.pending, id)
	for i, queued := range q.order {
		if queued == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
