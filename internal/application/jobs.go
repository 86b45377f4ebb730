package application

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/input"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// GeoreferenceRunner executes dequeued georeference jobs. Every failure,
// panics included, ends in an ERROR status carrying the failure text.
type GeoreferenceRunner struct {
	metadata output.MetadataStore
	enricher *Enricher
	metrics  output.MetricsCollector
	logger   *slog.Logger

	mu   sync.RWMutex
	hook input.StatusHook
}

// NewGeoreferenceRunner creates a new job runner. Status transitions are
// dropped until a hook is bound.
func NewGeoreferenceRunner(
	metadata output.MetadataStore,
	enricher *Enricher,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *GeoreferenceRunner {
	return &GeoreferenceRunner{
		metadata: metadata,
		enricher: enricher,
		metrics:  metrics,
		logger:   logger,
	}
}

// BindStatusHook sets the receiver of status transitions.
func (r *GeoreferenceRunner) BindStatusHook(hook input.StatusHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Run executes one job and reports its terminal state.
func (r *GeoreferenceRunner) Run(ctx context.Context, job domain.Job) (err error) {
	start := time.Now()
	cb := r.callback(job)
	logger := r.logger.With("resource_id", job.Args.ResourceID, "job_id", job.ID)
	logger.Info("georeference job started")

	defer func() {
		if p := recover(); p != nil {
			err = &domain.JobError{
				ResourceID: job.Args.ResourceID,
				JobID:      job.ID,
				Err:        fmt.Errorf("panic: %v\n%s", p, debug.Stack()),
			}
		}

		// The job context may already be cancelled by its timeout.
		reportCtx := context.WithoutCancel(ctx)
		state := domain.StateComplete
		errText := ""
		if err != nil {
			state = domain.StateError
			errText = err.Error()
			logger.Error("georeference job failed", "error", err)
		} else {
			logger.Info("georeference job completed", "duration", time.Since(start))
		}
		if rerr := cb.Report(reportCtx, state, nil, errText); rerr != nil {
			logger.Error("failed to report job status", "state", state, "error", rerr)
		}
		r.metrics.ObserveJobDuration(time.Since(start))
	}()

	if err := r.georeference(ctx, job, cb); err != nil {
		return &domain.JobError{ResourceID: job.Args.ResourceID, JobID: job.ID, Err: err}
	}
	return nil
}

func (r *GeoreferenceRunner) georeference(ctx context.Context, job domain.Job, cb output.StatusCallback) error {
	if err := job.Args.Validate(); err != nil {
		return err
	}
	res, err := r.metadata.GetResource(ctx, job.Args.ResourceID)
	if err != nil {
		return err
	}

	switch {
	case res.IsGeoJSON():
		return r.enricher.IngestAndPopulate(ctx, res, cb)
	case res.DatastoreActive:
		return r.enricher.PrepareAndPopulate(ctx, res, cb)
	default:
		return fmt.Errorf("can only georeference geojson files or resources pushed to the datastore: %w",
			domain.ErrNotEligible)
	}
}

// callback binds the status hook to one job. Values always carry the
// job id.
func (r *GeoreferenceRunner) callback(job domain.Job) output.StatusCallback {
	return output.StatusFunc(func(ctx context.Context, state domain.TaskState, value *domain.TaskValue, errText string) error {
		r.mu.RLock()
		hook := r.hook
		r.mu.RUnlock()
		if hook == nil {
			return nil
		}
		if value != nil && value.JobID == "" {
			v := *value
			v.JobID = job.ID
			value = &v
		}
		return hook.HandleStatusUpdate(ctx, domain.StatusUpdate{
			ResourceID: job.Args.ResourceID,
			JobID:      job.ID,
			JobCreated: job.Args.JobCreated,
			State:      state,
			Value:      value,
			Error:      errText,
		})
	})
}
