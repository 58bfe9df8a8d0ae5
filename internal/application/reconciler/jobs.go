package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a batch reconciliation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job staleness thresholds.
const (
	// DefaultJobStaleThreshold is how long a job can go without progress
	// updates before being considered hung.
	DefaultJobStaleThreshold = 30 * time.Minute

	// DefaultJobMaxDuration is the maximum time a job can run before being
	// forcefully marked as failed.
	DefaultJobMaxDuration = 2 * time.Hour
)

// JobRequest holds parameters for starting a batch job.
type JobRequest struct {
	TenantID        string
	Dedup           bool
	MaxTransactions int
}

// Job represents a running or completed batch reconciliation job.
type Job struct {
	ID          string
	TenantID    string
	Status      JobStatus
	Request     JobRequest
	StartedAt   time.Time
	CompletedAt *time.Time
	Progress    ProgressUpdate
	LastUpdate  time.Time
	Result      *Result
	Error       error
	cancelFunc  context.CancelFunc
}

// JobService manages asynchronous batch reconciliation jobs. Only one job
// runs per tenant at a time.
type JobService struct {
	engine *Reconciler
	logger *slog.Logger

	jobs      map[string]*Job
	jobsMutex sync.RWMutex

	tenantLocks map[string]*sync.Mutex
	locksMutex  sync.Mutex

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewJobService creates a job service around the reconciliation engine.
func NewJobService(engine *Reconciler, logger *slog.Logger) *JobService {
	return &JobService{
		engine:      engine,
		logger:      logger,
		jobs:        make(map[string]*Job),
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

// Start launches a batch job asynchronously and returns its id.
//
// The passed context is NOT the parent of the background job: jobs run
// off context.Background() so they survive the HTTP request that started
// them. Use Cancel to stop a running job.
func (s *JobService) Start(_ context.Context, req JobRequest) (string, error) {
	if req.TenantID == "" {
		return "", fmt.Errorf("tenant id is required")
	}
	if !s.tryLockTenant(req.TenantID) {
		return "", fmt.Errorf("reconciliation already running for tenant: %s", req.TenantID)
	}

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())

	now := time.Now()
	job := &Job{
		ID:         jobID,
		TenantID:   req.TenantID,
		Status:     JobPending,
		Request:    req,
		StartedAt:  now,
		Progress:   ProgressUpdate{Phase: "pending"},
		LastUpdate: now,
		cancelFunc: cancel,
	}

	s.jobsMutex.Lock()
	s.jobs[jobID] = job
	s.jobsMutex.Unlock()

	go s.run(jobCtx, job)

	s.logger.Info("reconciliation job started",
		"job_id", jobID,
		"tenant_id", req.TenantID,
		"dedup", req.Dedup,
	)
	return jobID, nil
}

// Get retrieves a job by id.
func (s *JobService) Get(jobID string) (*Job, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

// ListActive returns all running or pending jobs.
func (s *JobService) ListActive() []*Job {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	var active []*Job
	for _, job := range s.jobs {
		if job.Status == JobPending || job.Status == JobRunning {
			active = append(active, job)
		}
	}
	return active
}

// Cancel cancels a running job. Items already committed stand.
func (s *JobService) Cancel(jobID string) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Status != JobPending && job.Status != JobRunning {
		return fmt.Errorf("job cannot be cancelled: status=%s", job.Status)
	}

	job.cancelFunc()
	job.Status = JobCancelled
	now := time.Now()
	job.CompletedAt = &now
	job.Progress.Phase = "cancelled"
	job.LastUpdate = now

	s.logger.Info("reconciliation job cancelled", "job_id", jobID)
	return nil
}

// run executes the job in a background goroutine.
func (s *JobService) run(ctx context.Context, job *Job) {
	defer s.unlockTenant(job.TenantID)

	if !s.markRunning(job.ID) {
		// Cancelled before the goroutine got scheduled.
		return
	}

	opts := Options{
		Dedup:           job.Request.Dedup,
		MaxTransactions: job.Request.MaxTransactions,
		ProgressCallback: func(update ProgressUpdate) {
			s.updateProgress(job.ID, update)
		},
	}

	result, err := s.engine.Reconcile(ctx, job.TenantID, opts)
	if ctx.Err() != nil {
		// Cancel already recorded the terminal state; a partial result
		// must not overwrite it.
		return
	}
	if err != nil {
		s.fail(job.ID, err)
		return
	}

	s.complete(job.ID, result)
}

// markRunning transitions a pending job to running. It reports false when
// the job is gone or already terminal, in which case the run is abandoned.
func (s *JobService) markRunning(jobID string) bool {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.Status != JobPending {
		return false
	}
	job.Status = JobRunning
	job.Progress = ProgressUpdate{Phase: "running"}
	job.LastUpdate = time.Now()
	return true
}

// updateProgress updates job progress from the pipeline callback.
func (s *JobService) updateProgress(jobID string, update ProgressUpdate) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		job.Progress = update
		job.LastUpdate = time.Now()
	}
}

// complete marks a running job as completed with its batch summary.
// Terminal states set elsewhere (cancelled, stale-failed) are never
// overwritten.
func (s *JobService) complete(jobID string, result *Result) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status == JobRunning {
		now := time.Now()
		job.Status = JobCompleted
		job.CompletedAt = &now
		job.Result = result
		job.Progress.Phase = "completed"
		job.Progress.Processed = result.Processed
		job.Progress.AutoMatched = result.AutoMatched
		job.Progress.Suggested = result.Suggested
		job.Progress.Skipped = result.Skipped
		job.Progress.Errored = result.Errored
		job.LastUpdate = now
		s.logger.Info("reconciliation job completed",
			"job_id", jobID,
			"processed", result.Processed,
			"auto_matched", result.AutoMatched,
			"suggested", result.Suggested,
			"errored", result.Errored,
		)
	}
}

// fail marks a running job as failed.
func (s *JobService) fail(jobID string, err error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status == JobRunning {
		now := time.Now()
		job.Status = JobFailed
		job.CompletedAt = &now
		job.Error = err
		job.Progress.Phase = "failed"
		job.LastUpdate = now
		s.logger.Error("reconciliation job failed", "job_id", jobID, "error", err)
	}
}

// tryLockTenant attempts to acquire the per-tenant job lock.
func (s *JobService) tryLockTenant(tenantID string) bool {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if _, exists := s.tenantLocks[tenantID]; !exists {
		s.tenantLocks[tenantID] = &sync.Mutex{}
	}
	return s.tenantLocks[tenantID].TryLock()
}

// unlockTenant releases the per-tenant job lock.
func (s *JobService) unlockTenant(tenantID string) {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if lock, exists := s.tenantLocks[tenantID]; exists {
		lock.Unlock()
	}
}

// CleanupOldJobs removes completed jobs older than maxAge.
func (s *JobService) CleanupOldJobs(maxAge time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range s.jobs {
		if job.Status == JobCompleted || job.Status == JobFailed || job.Status == JobCancelled {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(s.jobs, id)
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up old reconciliation jobs", "removed", removed)
	}
	return removed
}

// MarkStaleJobsAsFailed finds jobs that appear stuck and marks them as
// failed: jobs running past maxDuration, or jobs whose last progress
// update is older than staleThreshold. This covers goroutines that
// panicked without updating job state.
func (s *JobService) MarkStaleJobsAsFailed(staleThreshold, maxDuration time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	now := time.Now()
	marked := 0

	for id, job := range s.jobs {
		if job.Status != JobRunning && job.Status != JobPending {
			continue
		}

		var reason string
		switch {
		case now.Sub(job.StartedAt) > maxDuration:
			reason = fmt.Sprintf("exceeded max duration of %v", maxDuration)
		case now.Sub(job.LastUpdate) > staleThreshold:
			reason = fmt.Sprintf("no progress update for %v", now.Sub(job.LastUpdate).Round(time.Second))
		default:
			continue
		}

		if job.cancelFunc != nil {
			job.cancelFunc()
		}
		job.Status = JobFailed
		job.CompletedAt = &now
		job.Error = fmt.Errorf("job marked as stale: %s", reason)
		job.Progress.Phase = "failed"
		job.LastUpdate = now

		s.releaseTenantLockUnsafe(job.TenantID)

		s.logger.Warn("marked stale job as failed",
			"job_id", id,
			"tenant_id", job.TenantID,
			"reason", reason,
		)
		marked++
	}

	return marked
}

// releaseTenantLockUnsafe releases a tenant lock without panicking when
// it is already free. MUST only be called while holding jobsMutex.
func (s *JobService) releaseTenantLockUnsafe(tenantID string) {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if lock, exists := s.tenantLocks[tenantID]; exists {
		if lock.TryLock() {
			lock.Unlock()
		} else {
			lock.Unlock()
		}
	}
}

// StartBackgroundCleanup starts a goroutine that periodically marks stale
// jobs failed and removes old completed jobs. Call StopBackgroundCleanup
// to stop it.
func (s *JobService) StartBackgroundCleanup(checkInterval time.Duration) {
	s.cleanupStop = make(chan struct{})
	s.cleanupDone = make(chan struct{})

	go func() {
		defer close(s.cleanupDone)

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		s.logger.Info("background job cleanup started", "check_interval", checkInterval)

		for {
			select {
			case <-s.cleanupStop:
				s.logger.Info("background job cleanup stopped")
				return
			case <-ticker.C:
				if marked := s.MarkStaleJobsAsFailed(DefaultJobStaleThreshold, DefaultJobMaxDuration); marked > 0 {
					s.logger.Info("marked stale jobs as failed", "count", marked)
				}
				if cleaned := s.CleanupOldJobs(24 * time.Hour); cleaned > 0 {
					s.logger.Debug("cleaned up old jobs", "count", cleaned)
				}
			}
		}
	}()
}

// StopBackgroundCleanup stops the cleanup goroutine and waits for it.
func (s *JobService) StopBackgroundCleanup() {
	if s.cleanupStop == nil {
		return
	}
	close(s.cleanupStop)
	<-s.cleanupDone
}
