package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/models"
)

// StuckThreshold is how stale a RUNNING job's heartbeat may be before
// the job counts as stuck.
const StuckThreshold = 30 * time.Minute

var (
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrJobNotRunning     = errors.New("job not running")
	ErrJobNotStuck       = errors.New("job is not stuck")
)

// JobStore is the persistence surface the controller needs. WithLock
// must hold a row-level lock on the named job for the duration of fn
// and write the struct back on success.
type JobStore interface {
	WithLock(ctx context.Context, name string, fn func(job *models.BatchJob) error) error
	Heartbeat(ctx context.Context, name string, processed int, message string) error
	Get(ctx context.Context, name string) (*models.BatchJob, error)
	ListRunning(ctx context.Context) ([]*models.BatchJob, error)
}

// JobStatusInfo is the externally visible state of one job.
type JobStatusInfo struct {
	Name      string           `json:"name"`
	State     models.JobStatus `json:"state"`
	Processed int              `json:"processed"`
	Total     int              `json:"total"`
	Message   string           `json:"message,omitempty"`
	Stuck     bool             `json:"stuck"`
	StuckFor  string           `json:"stuck_for,omitempty"`
}

// JobController owns the batch job state machine. All transitions run
// under the store's row lock so concurrent starts and stops serialize.
type JobController struct {
	store JobStore
	now   func() time.Time
}

func NewJobController(store JobStore) *JobController {
	return &JobController{store: store, now: time.Now}
}

// Start transitions the job to RUNNING. Allowed from any settled state
// and from a RUNNING job whose heartbeat has gone stale; a live
// RUNNING or STOPPING job rejects the start.
func (c *JobController) Start(ctx context.Context, name string, total int) error {
	return c.store.WithLock(ctx, name, func(job *models.BatchJob) error {
		now := c.now()

		switch job.Status {
		case models.JobRunning:
			stuckFor := job.StuckFor(now, StuckThreshold)
			if stuckFor == 0 {
				return ErrJobAlreadyRunning
			}
			logger.Warn("resetting stuck job on start",
				"job", name, "stale_for", (StuckThreshold + stuckFor).String())
		case models.JobStopping:
			return ErrJobAlreadyRunning
		}

		job.Status = models.JobRunning
		job.TotalItems = total
		job.ProcessedItems = 0
		job.Message = "starting"
		job.StartedAt = &now
		job.CompletedAt = nil
		job.LastHeartbeat = now
		return nil
	})
}

// RequestStop flips a RUNNING job to STOPPING. The worker notices on
// its next stop poll; nothing is interrupted synchronously.
func (c *JobController) RequestStop(ctx context.Context, name string) error {
	return c.store.WithLock(ctx, name, func(job *models.BatchJob) error {
		if job.Status != models.JobRunning {
			return ErrJobNotRunning
		}
		job.Status = models.JobStopping
		job.Message = "stop requested"
		return nil
	})
}

// ShouldStop is the worker's cooperative stop poll.
func (c *JobController) ShouldStop(ctx context.Context, name string) (bool, error) {
	job, err := c.store.Get(ctx, name)
	if err != nil {
		return false, err
	}
	return job != nil && job.Status == models.JobStopping, nil
}

// Heartbeat reports worker liveness and progress.
func (c *JobController) Heartbeat(ctx context.Context, name string, processed int, message string) {
	if err := c.store.Heartbeat(ctx, name, processed, message); err != nil {
		logger.Warn("job heartbeat failed", "job", name, "error", err)
	}
}

// Finish settles the job when its worker exits. A stopped run lands in
// IDLE, a setup failure in FAILED, everything else in COMPLETED; item
// failures do not fail the job but are surfaced in the message. A stop
// request racing a finished worker is a benign overwrite.
func (c *JobController) Finish(ctx context.Context, name string, stopped bool, processed, failed int, fatal error) error {
	return c.store.WithLock(ctx, name, func(job *models.BatchJob) error {
		now := c.now()
		job.ProcessedItems = processed
		job.LastHeartbeat = now

		switch {
		case fatal != nil:
			job.Status = models.JobFailed
			job.Message = fmt.Sprintf("fatal: %v", fatal)
		case stopped:
			job.Status = models.JobIdle
			job.Message = fmt.Sprintf("stopped by request after %d items", processed)
		default:
			job.Status = models.JobCompleted
			job.CompletedAt = &now
			if failed > 0 {
				job.Message = fmt.Sprintf("completed: %d items processed, %d failed", processed, failed)
			} else {
				job.Message = fmt.Sprintf("completed: %d items processed", processed)
			}
		}
		return nil
	})
}

// ResetStuck returns a stuck RUNNING job to IDLE with a diagnostic.
// Explicit operator action; a healthy job is left alone.
func (c *JobController) ResetStuck(ctx context.Context, name string) error {
	return c.store.WithLock(ctx, name, func(job *models.BatchJob) error {
		now := c.now()
		if job.Status != models.JobRunning {
			return ErrJobNotStuck
		}
		stuckFor := job.StuckFor(now, StuckThreshold)
		if stuckFor == 0 {
			return ErrJobNotStuck
		}
		job.Status = models.JobIdle
		job.Message = fmt.Sprintf("reset after heartbeat silent for %s", (StuckThreshold + stuckFor).Round(time.Second))
		return nil
	})
}

// Status reports the job's externally visible state. A job that never
// ran reports IDLE.
func (c *JobController) Status(ctx context.Context, name string) (*JobStatusInfo, error) {
	job, err := c.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &JobStatusInfo{Name: name, State: models.JobIdle}, nil
	}

	info := &JobStatusInfo{
		Name:      name,
		State:     job.Status,
		Processed: job.ProcessedItems,
		Total:     job.TotalItems,
		Message:   job.Message,
	}
	if stuckFor := job.StuckFor(c.now(), StuckThreshold); stuckFor > 0 {
		info.Stuck = true
		info.StuckFor = stuckFor.Round(time.Second).String()
	}
	return info, nil
}

// Running lists the jobs currently in the RUNNING state.
func (c *JobController) Running(ctx context.Context) ([]*models.BatchJob, error) {
	return c.store.ListRunning(ctx)
}

// SweepStuck logs every RUNNING job with a stale heartbeat. Runs on a
// schedule; it flags, it does not reset.
func (c *JobController) SweepStuck(ctx context.Context) {
	jobs, err := c.store.ListRunning(ctx)
	if err != nil {
		logger.Error("stuck-job sweep failed", "error", err)
		return
	}
	now := c.now()
	for _, job := range jobs {
		if stuckFor := job.StuckFor(now, StuckThreshold); stuckFor > 0 {
			logger.Warn("job appears stuck",
				"job", job.Name,
				"processed", job.ProcessedItems,
				"total", job.TotalItems,
				"heartbeat_stale_for", (StuckThreshold + stuckFor).Round(time.Second).String())
		}
	}
}
