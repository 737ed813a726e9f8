package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"regional-stats-chatbot/models"
)

// JobStore persists batch job rows. Every state transition runs inside
// WithLock so concurrent controllers serialize on the row.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `id, job_name, status, total_items, processed_items, message, started_at, completed_at, last_heartbeat`

func scanJob(row pgx.Row) (*models.BatchJob, error) {
	var job models.BatchJob
	err := row.Scan(&job.ID, &job.Name, &job.Status, &job.TotalItems, &job.ProcessedItems,
		&job.Message, &job.StartedAt, &job.CompletedAt, &job.LastHeartbeat)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &job, nil
}

// WithLock runs fn holding a row-level lock on the named job, creating
// the row in IDLE if it does not exist yet. Whatever fn leaves in the
// struct is written back before the lock is released; returning an
// error rolls everything back.
func (s *JobStore) WithLock(ctx context.Context, name string, fn func(job *models.BatchJob) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin job transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO batch_jobs (job_name) VALUES ($1)
		ON CONFLICT (job_name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("ensure job row: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM batch_jobs WHERE job_name = $1 FOR UPDATE`, name)
	job, err := scanJob(row)
	if err != nil {
		return err
	}

	if err := fn(job); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE batch_jobs
		SET status = $2, total_items = $3, processed_items = $4, message = $5,
			started_at = $6, completed_at = $7, last_heartbeat = $8
		WHERE job_name = $1`,
		name, job.Status, job.TotalItems, job.ProcessedItems, job.Message,
		job.StartedAt, job.CompletedAt, job.LastHeartbeat)
	if err != nil {
		return fmt.Errorf("write job state: %w", err)
	}

	return tx.Commit(ctx)
}

// Heartbeat advances progress, the status message and the liveness
// timestamp without taking the row lock. Workers call it once per unit
// of work.
func (s *JobStore) Heartbeat(ctx context.Context, name string, processed int, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE batch_jobs SET processed_items = $2, message = $3, last_heartbeat = $4
		WHERE job_name = $1`, name, processed, message, time.Now())
	if err != nil {
		return fmt.Errorf("job heartbeat: %w", err)
	}
	return nil
}

// Get returns the current job row, nil when the job has never run.
func (s *JobStore) Get(ctx context.Context, name string) (*models.BatchJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE job_name = $1`, name)
	return scanJob(row)
}

// ListRunning returns all jobs currently in RUNNING, for the stuck-job
// sweeper.
func (s *JobStore) ListRunning(ctx context.Context) ([]*models.BatchJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM batch_jobs WHERE status = $1`, models.JobRunning)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
