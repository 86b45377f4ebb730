package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncSubmissions counts a submission by outcome (submitted, skipped, failed).
	IncSubmissions(outcome string)

	// IncJobsFinished counts a finished job by terminal state.
	IncJobsFinished(state string)

	// ObserveJobDuration records how long a job ran.
	ObserveJobDuration(duration time.Duration)

	// AddRowsPopulated adds to the number of rows whose geometries were written.
	AddRowsPopulated(rows int)

	// IncExtentQueries counts an extent query per backend.
	IncExtentQueries(backend string, success bool)

	// ObserveExtentDuration records extent query duration.
	ObserveExtentDuration(backend string, duration time.Duration)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncSubmissions implements MetricsCollector.
func (n *NoOpMetrics) IncSubmissions(_ string) {}

// IncJobsFinished implements MetricsCollector.
func (n *NoOpMetrics) IncJobsFinished(_ string) {}

// ObserveJobDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveJobDuration(_ time.Duration) {}

// AddRowsPopulated implements MetricsCollector.
func (n *NoOpMetrics) AddRowsPopulated(_ int) {}

// IncExtentQueries implements MetricsCollector.
func (n *NoOpMetrics) IncExtentQueries(_ string, _ bool) {}

// ObserveExtentDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveExtentDuration(_ string, _ time.Duration) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
