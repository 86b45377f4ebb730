// Package queue provides the job queues that run georeference jobs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/input"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// listLimit caps how many unfinished jobs ListQueuedJobs inspects.
const listLimit = 1000

// unfinished are the river states of jobs that may still run.
var unfinished = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// GeoreferenceArgs are the river job args of a georeference job.
type GeoreferenceArgs struct {
	domain.JobArgs
}

// Kind implements river.JobArgs.
func (GeoreferenceArgs) Kind() string { return domain.JobKind }

// GeoreferenceWorker runs georeference jobs pulled from river.
type GeoreferenceWorker struct {
	river.WorkerDefaults[GeoreferenceArgs]
	runner input.JobRunner
}

// Timeout overrides the client job timeout with the one the job was
// submitted with.
func (w *GeoreferenceWorker) Timeout(job *river.Job[GeoreferenceArgs]) time.Duration {
	return job.Args.Timeout()
}

// Work implements river.Worker.
func (w *GeoreferenceWorker) Work(ctx context.Context, job *river.Job[GeoreferenceArgs]) error {
	return w.runner.Run(ctx, domain.Job{
		ID:   strconv.FormatInt(job.ID, 10),
		Args: job.Args.JobArgs,
	})
}

// RiverConfig configures the river queue.
type RiverConfig struct {
	Queue      string
	Workers    int
	JobTimeout time.Duration
}

// RiverQueue is the durable PostgreSQL-backed job queue.
type RiverQueue struct {
	client *river.Client[pgx.Tx]
	queue  string
	logger *slog.Logger
}

var _ output.JobQueue = (*RiverQueue)(nil)

// NewRiverQueue creates a river client over pool whose workers hand jobs to
// runner.
func NewRiverQueue(pool *pgxpool.Pool, runner input.JobRunner, cfg RiverConfig, logger *slog.Logger) (*RiverQueue, error) {
	if cfg.Queue == "" {
		cfg.Queue = river.QueueDefault
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	workers := river.NewWorkers()
	river.AddWorker[GeoreferenceArgs](workers, &GeoreferenceWorker{runner: runner})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			cfg.Queue: {MaxWorkers: cfg.Workers},
		},
		Workers:    workers,
		JobTimeout: cfg.JobTimeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return &RiverQueue{client: client, queue: cfg.Queue, logger: logger}, nil
}

// Enqueue implements output.JobQueue. Jobs are never retried by river; a
// failed job is reported as such and resubmitted explicitly.
func (q *RiverQueue) Enqueue(ctx context.Context, args domain.JobArgs, timeout time.Duration) (output.JobHandle, error) {
	if err := args.Validate(); err != nil {
		return output.JobHandle{}, err
	}
	if timeout > 0 {
		args.TimeoutSeconds = int(timeout / time.Second)
	}

	res, err := q.client.Insert(ctx, GeoreferenceArgs{JobArgs: args}, q.insertOpts())
	if err != nil {
		return output.JobHandle{}, fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
	}
	return output.JobHandle{ID: strconv.FormatInt(res.Job.ID, 10)}, nil
}

func (q *RiverQueue) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       q.queue,
		MaxAttempts: 1,
	}
}

// ListQueuedJobs implements output.JobQueue. The description of each job is
// its encoded args.
func (q *RiverQueue) ListQueuedJobs(ctx context.Context) ([]output.QueuedJob, error) {
	params := river.NewJobListParams().
		Kinds(domain.JobKind).
		States(unfinished...).
		First(listLimit)

	res, err := q.client.JobList(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
	}

	jobs := make([]output.QueuedJob, 0, len(res.Jobs))
	for _, row := range res.Jobs {
		jobs = append(jobs, output.QueuedJob{
			ID:          strconv.FormatInt(row.ID, 10),
			Description: string(row.EncodedArgs),
		})
	}
	return jobs, nil
}

// Start starts the river workers.
func (q *RiverQueue) Start(ctx context.Context) error {
	q.logger.Info("starting job queue", "backend", "river", "queue", q.queue)
	return q.client.Start(ctx)
}

// Stop waits for running jobs to finish or ctx to expire.
func (q *RiverQueue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// Migrate creates or upgrades the river tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), &rivermigrate.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("creating river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrating river schema: %w", err)
	}
	for _, v := range res.Versions {
		logger.Info("applied queue migration", "version", v.Version)
	}
	return nil
}

// describe renders job args the way river stores them.
func describe(args domain.JobArgs) string {
	data, err := json.Marshal(args)
	if err != nil {
		return args.ResourceID
	}
	return string(data)
}
