package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/models"
	"regional-stats-chatbot/utils"
)

// IngestionJobName is the single job slot for PDF ingestion. One
// ingestion runs at a time across the whole deployment.
const IngestionJobName = "pdf_ingestion"

// StartResult tells the caller what happened to their start request.
type StartResult string

const (
	StartAccepted       StartResult = "accepted"
	StartAlreadyRunning StartResult = "already_running"
	StartNoInput        StartResult = "no_input"
)

// DocumentRepo is the persistence surface ingestion needs.
type DocumentRepo interface {
	GetByHash(ctx context.Context, hash string) (*models.SourceDocument, error)
	Create(ctx context.Context, doc *models.SourceDocument) error
	CommitPage(ctx context.Context, docID uuid.UUID, page int, fragments []*models.ContentFragment) error
}

// IngestionEnqueuer hands the accepted job to the background queue.
type IngestionEnqueuer interface {
	EnqueueIngestion(ctx context.Context) error
}

// IngestionService drives the document pipeline: scan the input
// directory, dedup by content hash, extract, classify, chunk, embed
// and commit page by page.
type IngestionService struct {
	docs       DocumentRepo
	extractor  *PDFExtractor
	chunker    *Chunker
	rasterizer *Rasterizer
	embedder   Embedder
	jobs       *JobController
	queue      IngestionEnqueuer
	inputDir   string
}

func NewIngestionService(
	docs DocumentRepo,
	extractor *PDFExtractor,
	chunker *Chunker,
	rasterizer *Rasterizer,
	embedder Embedder,
	jobs *JobController,
	queue IngestionEnqueuer,
	inputDir string,
) *IngestionService {
	return &IngestionService{
		docs:       docs,
		extractor:  extractor,
		chunker:    chunker,
		rasterizer: rasterizer,
		embedder:   embedder,
		jobs:       jobs,
		queue:      queue,
		inputDir:   inputDir,
	}
}

// pendingFiles lists the PDFs in the input directory, sorted for a
// deterministic processing order.
func (s *IngestionService) pendingFiles() ([]string, error) {
	entries, err := os.ReadDir(s.inputDir)
	if err != nil {
		return nil, fmt.Errorf("read input dir %s: %w", s.inputDir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			files = append(files, filepath.Join(s.inputDir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Start claims the ingestion job slot and enqueues the background run.
// The claim and the enqueue are not atomic; if the enqueue fails the
// job is settled as FAILED so the slot frees up immediately.
func (s *IngestionService) Start(ctx context.Context) (StartResult, error) {
	files, err := s.pendingFiles()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return StartNoInput, nil
	}

	if err := s.jobs.Start(ctx, IngestionJobName, len(files)); err != nil {
		if errors.Is(err, ErrJobAlreadyRunning) {
			return StartAlreadyRunning, nil
		}
		return "", err
	}

	if err := s.queue.EnqueueIngestion(ctx); err != nil {
		if finishErr := s.jobs.Finish(ctx, IngestionJobName, false, 0, 0, err); finishErr != nil {
			logger.Error("failed to settle job after enqueue failure", "error", finishErr)
		}
		return "", fmt.Errorf("enqueue ingestion: %w", err)
	}

	logger.Info("ingestion accepted", "files", len(files))
	return StartAccepted, nil
}

// Run is the worker body. It processes every pending file, skipping
// documents that are already fully ingested and resuming partially
// ingested ones from their watermark. A single bad file does not abort
// the batch.
func (s *IngestionService) Run(ctx context.Context) error {
	files, err := s.pendingFiles()
	if err != nil {
		return s.jobs.Finish(ctx, IngestionJobName, false, 0, 0, err)
	}

	var processed, failed int
	var stopped bool

	for i, file := range files {
		if stop, err := s.jobs.ShouldStop(ctx, IngestionJobName); err != nil {
			logger.Warn("stop poll failed", "job", IngestionJobName, "error", err)
		} else if stop {
			stopped = true
			break
		}

		s.jobs.Heartbeat(ctx, IngestionJobName, processed,
			fmt.Sprintf("processing file %d/%d: %s", i+1, len(files), filepath.Base(file)))

		status, err := s.ingestFile(ctx, file)
		if err != nil {
			logger.Error("file ingestion failed", "file", file, "error", err)
			failed++
			processed++
			continue
		}
		if status.stopped {
			stopped = true
			processed++
			break
		}
		logger.Info("file ingested",
			"file", filepath.Base(file),
			"skipped", status.skipped,
			"fragments", status.fragments,
			"page_errors", status.pageErrs)
		if status.pageErrs > 0 {
			failed++
		}
		processed++
	}

	return s.jobs.Finish(ctx, IngestionJobName, stopped, processed, failed, nil)
}

type fileStatus struct {
	skipped   bool
	stopped   bool
	fragments int
	pageErrs  int
}

// ingestFile processes one PDF end to end. The content hash decides
// whether this is a new document, a resume of a partial one, or a
// no-op re-upload.
func (s *IngestionService) ingestFile(ctx context.Context, path string) (fileStatus, error) {
	hash, err := utils.FileSHA256(path)
	if err != nil {
		return fileStatus{}, fmt.Errorf("hash %s: %w", path, err)
	}

	doc, err := s.docs.GetByHash(ctx, hash)
	if err != nil {
		return fileStatus{}, err
	}
	if doc == nil {
		total, err := s.extractor.PageCount(path)
		if err != nil {
			return fileStatus{}, err
		}
		doc = &models.SourceDocument{
			DisplayName: filepath.Base(path),
			TotalPages:  total,
			ContentHash: hash,
			Metadata:    map[string]any{"source_path": path},
		}
		if err := s.docs.Create(ctx, doc); err != nil {
			return fileStatus{}, err
		}
	} else if doc.IngestedPages >= doc.TotalPages {
		return fileStatus{skipped: true}, nil
	} else {
		logger.Info("resuming partial document",
			"document", doc.DisplayName, "from_page", doc.IngestedPages+1, "total", doc.TotalPages)
	}

	pages, err := s.extractor.ExtractPages(path)
	if err != nil {
		return fileStatus{}, err
	}

	stop := func(ctx context.Context) (bool, error) {
		return s.jobs.ShouldStop(ctx, IngestionJobName)
	}
	capture := func(ctx context.Context, page int) string {
		rel, err := s.rasterizer.CapturePage(ctx, path, page)
		if err != nil {
			logger.Warn("page capture failed", "file", path, "page", page, "error", err)
			return ""
		}
		return rel
	}
	sink := func(ctx context.Context, page int, fragments []*models.ContentFragment) error {
		s.embedFragments(ctx, fragments)
		return s.docs.CommitPage(ctx, doc.ID, page, fragments)
	}

	result, err := s.chunker.Run(ctx, doc, pages, doc.IngestedPages, stop, capture, sink)
	if err != nil {
		return fileStatus{}, err
	}
	return fileStatus{
		stopped:   result.Stopped,
		fragments: result.Fragments,
		pageErrs:  result.PageErrs,
	}, nil
}

// embedFragments fills in embeddings best-effort. A fragment whose
// embedding fails is still committed; it stays invisible to vector
// search until a later rewrite gives it a vector, but its text is
// never lost.
func (s *IngestionService) embedFragments(ctx context.Context, fragments []*models.ContentFragment) {
	for _, frag := range fragments {
		embedding, err := s.embedder.Embed(ctx, frag.Body())
		if err != nil {
			logger.Warn("fragment embedding failed",
				"document_id", frag.DocumentID, "page", frag.PageNumber, "error", err)
			continue
		}
		frag.Embedding = embedding
	}
}
