package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regional-stats-chatbot/models"
)

// memJobStore keeps jobs in memory. Single-goroutine tests need no
// real locking; WithLock just hands out the live struct.
type memJobStore struct {
	jobs map[string]*models.BatchJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.BatchJob)}
}

func (m *memJobStore) WithLock(ctx context.Context, name string, fn func(job *models.BatchJob) error) error {
	job, ok := m.jobs[name]
	if !ok {
		job = &models.BatchJob{Name: name, Status: models.JobIdle}
		m.jobs[name] = job
	}
	return fn(job)
}

func (m *memJobStore) Heartbeat(ctx context.Context, name string, processed int, message string) error {
	job, ok := m.jobs[name]
	if !ok {
		return nil
	}
	job.ProcessedItems = processed
	job.Message = message
	job.LastHeartbeat = time.Now()
	return nil
}

func (m *memJobStore) Get(ctx context.Context, name string) (*models.BatchJob, error) {
	return m.jobs[name], nil
}

func (m *memJobStore) ListRunning(ctx context.Context) ([]*models.BatchJob, error) {
	var out []*models.BatchJob
	for _, job := range m.jobs {
		if job.Status == models.JobRunning {
			out = append(out, job)
		}
	}
	return out, nil
}

func newTestController() (*JobController, *memJobStore, time.Time) {
	store := newMemJobStore()
	c := NewJobController(store)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, store, now
}

func TestStartFromIdle(t *testing.T) {
	c, store, now := newTestController()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "pdf_ingestion", 7))

	job := store.jobs["pdf_ingestion"]
	assert.Equal(t, models.JobRunning, job.Status)
	assert.Equal(t, 7, job.TotalItems)
	assert.Zero(t, job.ProcessedItems)
	assert.Equal(t, now, job.LastHeartbeat)
}

func TestStartRejectsLiveRun(t *testing.T) {
	c, _, _ := newTestController()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "pdf_ingestion", 3))
	assert.ErrorIs(t, c.Start(ctx, "pdf_ingestion", 3), ErrJobAlreadyRunning)
}

func TestStartResetsStuckRun(t *testing.T) {
	c, store, now := newTestController()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "pdf_ingestion", 3))
	store.jobs["pdf_ingestion"].LastHeartbeat = now.Add(-45 * time.Minute)

	require.NoError(t, c.Start(ctx, "pdf_ingestion", 5))
	assert.Equal(t, models.JobRunning, store.jobs["pdf_ingestion"].Status)
	assert.Equal(t, 5, store.jobs["pdf_ingestion"].TotalItems)
}

func TestStartRejectedWhileStopping(t *testing.T) {
	c, _, _ := newTestController()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "pdf_ingestion", 3))
	require.NoError(t, c.RequestStop(ctx, "pdf_ingestion"))
	assert.ErrorIs(t, c.Start(ctx, "pdf_ingestion", 3), ErrJobAlreadyRunning)
}

func TestRequestStopNeedsRunningJob(t *testing.T) {
	c, _, _ := newTestController()
	ctx := context.Background()

	assert.ErrorIs(t, c.RequestStop(ctx, "pdf_ingestion"), ErrJobNotRunning)

	require.NoError(t, c.Start(ctx, "pdf_ingestion", 3))
	require.NoError(t, c.RequestStop(ctx, "pdf_ingestion"))

	stop, err := c.ShouldStop(ctx, "pdf_ingestion")
	require.NoError(t, err)
	assert.True(t, stop)
}

func TestFinishOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("stopped run lands in idle", func(t *testing.T) {
		c, store, _ := newTestController()
		require.NoError(t, c.Start(ctx, "job", 5))
		require.NoError(t, c.Finish(ctx, "job", true, 2, 0, nil))
		assert.Equal(t, models.JobIdle, store.jobs["job"].Status)
	})

	t.Run("fatal error fails the job", func(t *testing.T) {
		c, store, _ := newTestController()
		require.NoError(t, c.Start(ctx, "job", 5))
		require.NoError(t, c.Finish(ctx, "job", false, 0, 0, assert.AnError))
		assert.Equal(t, models.JobFailed, store.jobs["job"].Status)
		assert.Contains(t, store.jobs["job"].Message, "fatal")
	})

	t.Run("item failures complete with counts", func(t *testing.T) {
		c, store, _ := newTestController()
		require.NoError(t, c.Start(ctx, "job", 5))
		require.NoError(t, c.Finish(ctx, "job", false, 5, 3, nil))
		assert.Equal(t, models.JobCompleted, store.jobs["job"].Status)
		assert.Contains(t, store.jobs["job"].Message, "3 failed")
	})
}

func TestResetStuck(t *testing.T) {
	c, store, now := newTestController()
	ctx := context.Background()

	assert.ErrorIs(t, c.ResetStuck(ctx, "job"), ErrJobNotStuck)

	require.NoError(t, c.Start(ctx, "job", 3))
	assert.ErrorIs(t, c.ResetStuck(ctx, "job"), ErrJobNotStuck, "healthy run must not be reset")

	store.jobs["job"].LastHeartbeat = now.Add(-2 * time.Hour)
	require.NoError(t, c.ResetStuck(ctx, "job"))
	assert.Equal(t, models.JobIdle, store.jobs["job"].Status)
}

func TestStatusUnknownJobIsIdle(t *testing.T) {
	c, _, _ := newTestController()

	info, err := c.Status(context.Background(), "never_ran")
	require.NoError(t, err)
	assert.Equal(t, models.JobIdle, info.State)
	assert.False(t, info.Stuck)
}

func TestStatusFlagsStuckRun(t *testing.T) {
	c, store, now := newTestController()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "job", 3))
	store.jobs["job"].LastHeartbeat = now.Add(-50 * time.Minute)

	info, err := c.Status(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, info.State)
	assert.True(t, info.Stuck)
	assert.Equal(t, "20m0s", info.StuckFor)
}
