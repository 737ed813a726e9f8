package models

import "time"

// JobStatus is the persisted state of a long-running batch job.
type JobStatus string

const (
	JobIdle      JobStatus = "IDLE"
	JobRunning   JobStatus = "RUNNING"
	JobStopping  JobStatus = "STOPPING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// BatchJob is one row per job name. At most one RUNNING instance per
// name; transitions happen under a row-level lock.
type BatchJob struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Status         JobStatus  `json:"status"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	Message        string     `json:"message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastHeartbeat  time.Time  `json:"last_heartbeat"`
}

// Progress returns completion as a percentage.
func (j *BatchJob) Progress() float64 {
	if j.TotalItems == 0 {
		return 100.0
	}
	return float64(j.ProcessedItems) / float64(j.TotalItems) * 100
}

// StuckFor returns how long the job's heartbeat has been stale beyond
// the threshold, or zero when the job is not stuck. Only RUNNING jobs
// can be stuck.
func (j *BatchJob) StuckFor(now time.Time, threshold time.Duration) time.Duration {
	if j.Status != JobRunning {
		return 0
	}
	stale := now.Sub(j.LastHeartbeat)
	if stale <= threshold {
		return 0
	}
	return stale - threshold
}
