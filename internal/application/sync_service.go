// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/dataspatial/internal/ports/input"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// ErrRateLimited is returned when the sync API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	FilesSeen       int       `json:"files_seen"`
	FilesChanged    int       `json:"files_changed"`
	JobsSubmitted   int       `json:"jobs_submitted"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService polls object storage for new or changed GeoJSON uploads and
// forwards them to the event listener. The first pass only records what
// is there.
type SyncService struct {
	storage  output.ObjectStorage
	events   input.EventListener
	interval time.Duration
	logger   *slog.Logger

	// Last seen version per key
	seen   map[string]string
	primed bool

	// Lifecycle management
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Rate limiting for API triggers
	lastAPISync time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent sync operations
	syncOpMutex sync.Mutex

	// Track next scheduled sync for reporting
	nextSync time.Time
	syncMu   sync.RWMutex
}

// NewSyncService creates a new sync service.
func NewSyncService(storage output.ObjectStorage, events input.EventListener, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		storage:  storage,
		events:   events,
		interval: interval,
		logger:   logger,
		seen:     make(map[string]string),
		stopCh:   make(chan struct{}),
		// Initialize to past time to allow immediate first API call
		lastAPISync: time.Now().Add(-31 * time.Second),
	}
}

// Start begins the periodic sync scheduler.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// run is the main sync loop.
func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Record the current files so only later changes trigger jobs
	s.doSync(ctx)
	s.setNextSync(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			s.doSync(ctx)
			s.setNextSync(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sync service.
func (s *SyncService) Stop() {
	s.logger.Info("stopping sync service")
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSync manually triggers a sync operation with rate limiting.
// Returns ErrRateLimited if called more than 2 times per minute.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	// Rate limit: 30 seconds cooldown (allows ~2 requests per minute)
	if time.Since(s.lastAPISync) < 30*time.Second {
		return SyncResult{}, ErrRateLimited
	}
	s.lastAPISync = time.Now()

	return s.doSyncWithResult(ctx)
}

// doSync performs the sync operation without returning detailed results.
func (s *SyncService) doSync(ctx context.Context) {
	res, err := s.doSyncWithResult(ctx)
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		return
	}
	s.logger.Info("sync completed",
		"seen", res.FilesSeen,
		"changed", res.FilesChanged,
		"submitted", res.JobsSubmitted,
	)
}

// doSyncWithResult performs the sync operation and returns detailed results.
func (s *SyncService) doSyncWithResult(ctx context.Context) (SyncResult, error) {
	// Prevent concurrent sync operations
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	objects, err := s.storage.List(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{FilesSeen: len(objects)}
	for _, obj := range objects {
		version := objectVersion(obj)
		prev, known := s.seen[obj.Key]
		s.seen[obj.Key] = version
		if !s.primed || (known && prev == version) {
			continue
		}

		result.FilesChanged++
		res, err := s.events.FileChanged(ctx, obj.Key)
		if err != nil {
			s.logger.Error("failed to handle changed file", "key", obj.Key, "error", err)
			continue
		}
		if res != nil && res.Submitted() {
			result.JobsSubmitted++
		}
	}
	s.primed = true

	result.SyncedAt = time.Now()
	result.NextScheduledAt = s.getNextSync()
	return result, nil
}

// objectVersion identifies a revision of an object.
func objectVersion(obj output.StorageObject) string {
	if obj.ETag != "" {
		return obj.ETag
	}
	return time.Unix(obj.LastModified, 0).UTC().Format(time.RFC3339)
}

// setNextSync updates the next scheduled sync time.
func (s *SyncService) setNextSync(t time.Time) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.nextSync = t
}

// getNextSync returns the next scheduled sync time.
func (s *SyncService) getNextSync() time.Time {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.nextSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
