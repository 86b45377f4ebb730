package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// SubmissionConfig holds the job health thresholds.
type SubmissionConfig struct {
	StillbornAfter time.Duration // pending and absent from the queue
	StaleAfter     time.Duration // pending for too long
	JobTimeout     time.Duration
}

// Coordinator decides whether a georeference job is queued for a resource
// and persists the status transitions its jobs report. The task record is
// the only dedup mechanism; it is advisory, not a lock.
type Coordinator struct {
	metadata output.MetadataStore
	tasks    output.TaskStore
	queue    output.JobQueue
	metrics  output.MetricsCollector
	cfg      SubmissionConfig
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewCoordinator creates a new submission coordinator.
func NewCoordinator(
	metadata output.MetadataStore,
	tasks output.TaskStore,
	queue output.JobQueue,
	metrics output.MetricsCollector,
	cfg SubmissionConfig,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		metadata: metadata,
		tasks:    tasks,
		queue:    queue,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Submit queues a georeference job for the resource unless a healthy
// pending one exists. Skips and queue failures are reported through the
// result, not as errors.
func (c *Coordinator) Submit(ctx context.Context, resourceID string) (*domain.SubmitResult, error) {
	if strings.TrimSpace(resourceID) == "" {
		return nil, &domain.ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}

	r, err := c.metadata.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !r.IsEligible() {
		return nil, fmt.Errorf("resource %s: data must be loaded into the datastore: %w", resourceID, domain.ErrNotEligible)
	}

	existing, err := c.tasks.GetTask(ctx, resourceID, domain.TaskType, domain.TaskKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if existing != nil && existing.State == domain.StatePending {
		healthy, reason := c.pendingIsHealthy(ctx, existing)
		if healthy {
			c.logger.Info("healthy pending task found, skipping duplicate submission",
				"resource_id", resourceID,
				"task_id", existing.ID,
			)
			c.metrics.IncSubmissions(string(domain.OutcomeSkipped))
			return &domain.SubmitResult{
				ResourceID: resourceID,
				Outcome:    domain.OutcomeSkipped,
				TaskID:     existing.ID,
				JobID:      existing.Value.JobID,
				Reason:     reason,
			}, nil
		}
		c.logger.Info("pending task is not healthy, resubmitting",
			"resource_id", resourceID,
			"task_id", existing.ID,
			"reason", reason,
		)
	}

	taskID := c.newID()
	if existing != nil {
		taskID = existing.ID
	}
	now := c.now()
	task := domain.NewTask(taskID, resourceID, now)
	if err := c.tasks.UpsertTask(ctx, task); err != nil {
		return nil, err
	}

	args := domain.JobArgs{
		ResourceID:     resourceID,
		JobCreated:     now,
		TimeoutSeconds: int(c.cfg.JobTimeout / time.Second),
	}
	handle, err := c.queue.Enqueue(ctx, args, c.cfg.JobTimeout)
	if err != nil {
		c.logger.Error("failed to enqueue georeference job",
			"resource_id", resourceID,
			"task_id", taskID,
			"error", err,
		)
		c.metrics.IncSubmissions(string(domain.OutcomeFailed))
		return &domain.SubmitResult{
			ResourceID: resourceID,
			Outcome:    domain.OutcomeFailed,
			TaskID:     taskID,
			Reason:     errors.Join(domain.ErrSubmissionFailed, err).Error(),
		}, nil
	}
	c.logger.Debug("enqueued georeference job", "resource_id", resourceID, "job_id", handle.ID)

	// A fast worker may already have reported; its state is newer.
	current, err := c.tasks.GetTask(ctx, resourceID, domain.TaskType, domain.TaskKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if current == nil || current.State == domain.StateSubmitting {
		task.State = domain.StatePending
		task.Value = domain.TaskValue{JobID: handle.ID}
		task.LastUpdated = c.now()
		if err := c.tasks.UpsertTask(ctx, task); err != nil {
			return nil, err
		}
	} else {
		c.logger.Debug("worker reported before pending was written",
			"resource_id", resourceID,
			"state", current.State,
		)
	}

	c.metrics.IncSubmissions(string(domain.OutcomeSubmitted))
	return &domain.SubmitResult{
		ResourceID: resourceID,
		Outcome:    domain.OutcomeSubmitted,
		TaskID:     taskID,
		JobID:      handle.ID,
	}, nil
}

// pendingIsHealthy applies the stillborn and stale rules to a pending task.
func (c *Coordinator) pendingIsHealthy(ctx context.Context, task *domain.Task) (bool, string) {
	age := task.Age(c.now())

	queued := true
	jobs, err := c.queue.ListQueuedJobs(ctx)
	if err != nil {
		// Without a queue listing only the stale rule can apply.
		c.logger.Warn("failed to list queued jobs", "error", err)
	} else {
		queued = containsResource(jobs, task.EntityID)
	}

	switch {
	case !queued && age > c.cfg.StillbornAfter:
		return false, fmt.Sprintf("pending task not in queue after %s", age.Round(time.Second))
	case age > c.cfg.StaleAfter:
		return false, fmt.Sprintf("pending task is %s old", age.Round(time.Second))
	default:
		return true, "a healthy pending job exists"
	}
}

var resourceIDPattern = regexp.MustCompile(`'resource_id': u?'([^']+)'`)

// ResourceIDFromDescription extracts the resource id a queued job refers
// to. JSON descriptions are read by key; anything else is matched against
// the printed-dict form.
func ResourceIDFromDescription(desc string) string {
	if gjson.Valid(desc) {
		return gjson.Get(desc, "resource_id").String()
	}
	if m := resourceIDPattern.FindStringSubmatch(desc); m != nil {
		return m[1]
	}
	return ""
}

func containsResource(jobs []output.QueuedJob, resourceID string) bool {
	for _, j := range jobs {
		if ResourceIDFromDescription(j.Description) == resourceID {
			return true
		}
	}
	return false
}

// HandleStatusUpdate overwrites the resource's task with a reported
// transition. A completion for a job created before the resource's data
// last changed triggers a fresh submission.
func (c *Coordinator) HandleStatusUpdate(ctx context.Context, u domain.StatusUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	state, _ := domain.ParseTaskState(string(u.State))

	task, err := c.tasks.GetTask(ctx, u.ResourceID, domain.TaskType, domain.TaskKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		task = domain.NewTask(c.newID(), u.ResourceID, c.now())
	case err != nil:
		return err
	}

	resubmit := false
	if state == domain.StateComplete && !u.JobCreated.IsZero() {
		r, err := c.metadata.GetResource(ctx, u.ResourceID)
		if err != nil {
			c.logger.Warn("failed to load resource after completion", "resource_id", u.ResourceID, "error", err)
		} else if r.ModifiedAfter(u.JobCreated) {
			c.logger.Debug("resource changed since job started",
				"resource_id", u.ResourceID,
				"last_modified", r.LastModified,
				"job_created", u.JobCreated,
			)
			resubmit = true
		}
	}

	task.State = state
	task.LastUpdated = c.now()
	task.Error = u.Error
	if u.Value != nil {
		value := *u.Value
		if value.JobID == "" {
			value.JobID = u.JobID
		}
		if value.JobID == "" {
			value.JobID = task.Value.JobID
		}
		task.Value = value
	}
	if err := c.tasks.UpsertTask(ctx, task); err != nil {
		return err
	}
	if state.IsTerminal() {
		c.metrics.IncJobsFinished(string(state))
	}

	if resubmit {
		c.logger.Info("resource modified during job, resubmitting", "resource_id", u.ResourceID)
		res, err := c.Submit(ctx, u.ResourceID)
		if err != nil {
			return fmt.Errorf("resubmitting %s: %w", u.ResourceID, err)
		}
		c.logger.Info("resubmission finished", "resource_id", u.ResourceID, "outcome", res.Outcome)
	}
	return nil
}

// Status returns the status of the resource's latest job.
func (c *Coordinator) Status(ctx context.Context, resourceID string) (domain.StatusReport, error) {
	if strings.TrimSpace(resourceID) == "" {
		return domain.StatusReport{}, &domain.ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	task, err := c.tasks.GetTask(ctx, resourceID, domain.TaskType, domain.TaskKey)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotStartedReport(resourceID), nil
	}
	if err != nil {
		return domain.StatusReport{}, err
	}
	return task.Report(), nil
}
