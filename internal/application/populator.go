package application

import (
	"context"
	"log/slog"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// ProgressFunc receives the cumulative number of rows populated.
type ProgressFunc func(ctx context.Context, rowsCompleted int64) error

// BatchPopulator writes geometry columns batch by batch. Each batch is
// committed twice: first the primary geometry, then its projection.
type BatchPopulator struct {
	writer    output.GeometryWriter
	batchSize int
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// NewBatchPopulator creates a new batch populator.
func NewBatchPopulator(
	writer output.GeometryWriter,
	batchSize int,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *BatchPopulator {
	if batchSize <= 0 {
		batchSize = domain.DefaultBatchSize
	}
	return &BatchPopulator{
		writer:    writer,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Populate fills the geometry columns of every row that still needs them
// and returns how many rows were updated. Rows are visited in ascending
// id order; a run over a fully populated table updates nothing.
func (p *BatchPopulator) Populate(ctx context.Context, plan domain.PopulatePlan, progress ProgressFunc) (count int64, err error) {
	if err := plan.Validate(); err != nil {
		return 0, err
	}

	session, err := p.writer.OpenPopulate(ctx, plan)
	if err != nil {
		return 0, &domain.SpatialStoreError{Table: plan.Table, Operation: "populate", Err: err}
	}
	defer func() {
		if cerr := session.Close(ctx); cerr != nil && err == nil {
			err = &domain.SpatialStoreError{Table: plan.Table, Operation: "populate", Err: cerr}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		ids, err := session.Next(ctx, p.batchSize)
		if err != nil {
			return count, &domain.SpatialStoreError{Table: plan.Table, Operation: "populate", Err: err}
		}
		if len(ids) == 0 {
			break
		}

		if err := session.UpdateGeometry(ctx, ids); err != nil {
			return count, &domain.SpatialStoreError{Table: plan.Table, Operation: "update_geometry", Err: err}
		}
		if err := session.UpdateProjection(ctx, ids); err != nil {
			return count, &domain.SpatialStoreError{Table: plan.Table, Operation: "update_projection", Err: err}
		}

		count += int64(len(ids))
		p.metrics.AddRowsPopulated(len(ids))
		p.logger.Info("rows geocoded", "resource_id", plan.Table, "rows", count)

		if progress != nil {
			if err := progress(ctx, count); err != nil {
				p.logger.Warn("failed to report progress", "resource_id", plan.Table, "error", err)
			}
		}
	}

	return count, nil
}
