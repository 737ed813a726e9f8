package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regional-stats-chatbot/models"
)

type fakeQueue struct {
	enqueued int
	err      error
}

func (f *fakeQueue) EnqueueIngestion(ctx context.Context) error {
	f.enqueued++
	return f.err
}

type fakeDocRepo struct{}

func (f *fakeDocRepo) GetByHash(ctx context.Context, hash string) (*models.SourceDocument, error) {
	return nil, nil
}
func (f *fakeDocRepo) Create(ctx context.Context, doc *models.SourceDocument) error { return nil }
func (f *fakeDocRepo) CommitPage(ctx context.Context, docID uuid.UUID, page int, fragments []*models.ContentFragment) error {
	return nil
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("dummy"), 0o644))
	}
}

func newTestIngestion(t *testing.T, dir string, queue *fakeQueue) (*IngestionService, *memJobStore) {
	t.Helper()
	store := newMemJobStore()
	jobs := NewJobController(store)
	svc := NewIngestionService(&fakeDocRepo{}, NewPDFExtractor(0), NewChunker(1000, 200, 5000),
		NewRasterizer(t.TempDir()), fixedEmbedder{}, jobs, queue, dir)
	return svc, store
}

func TestIngestionStartNoInput(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "readme.txt")
	svc, _ := newTestIngestion(t, dir, &fakeQueue{})

	result, err := svc.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartNoInput, result)
}

func TestIngestionStartAccepted(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "laporan-2024.pdf", "laporan-2025.PDF")
	queue := &fakeQueue{}
	svc, store := newTestIngestion(t, dir, queue)

	result, err := svc.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartAccepted, result)
	assert.Equal(t, 1, queue.enqueued)

	job := store.jobs[IngestionJobName]
	require.NotNil(t, job)
	assert.Equal(t, models.JobRunning, job.Status)
	assert.Equal(t, 2, job.TotalItems, "case-insensitive pdf match")
}

func TestIngestionStartRejectsSecondRun(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "laporan.pdf")
	svc, _ := newTestIngestion(t, dir, &fakeQueue{})

	_, err := svc.Start(context.Background())
	require.NoError(t, err)

	result, err := svc.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartAlreadyRunning, result)
}

func TestIngestionStartSettlesJobOnEnqueueFailure(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "laporan.pdf")
	queue := &fakeQueue{err: assert.AnError}
	svc, store := newTestIngestion(t, dir, queue)

	_, err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.JobFailed, store.jobs[IngestionJobName].Status,
		"the slot must free up when the task never reached the queue")
}
