package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"regional-stats-chatbot/internal/ai"
	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/models"
)

// ReconstructionJobName returns the job slot for one document's table
// rewrite. Per-document naming lets different documents reconstruct
// concurrently while the same document never runs twice.
func ReconstructionJobName(docID uuid.UUID) string {
	return "reconstruction_" + docID.String()
}

// TableStore is the fragment surface reconstruction needs.
type TableStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.SourceDocument, error)
	TableFragments(ctx context.Context, docID uuid.UUID) ([]*models.ContentFragment, error)
	UpdateContent(ctx context.Context, id uuid.UUID, reconstructed string, embedding []float32) error
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ReconstructionEnqueuer hands an accepted rewrite job to the queue.
type ReconstructionEnqueuer interface {
	EnqueueReconstruction(ctx context.Context, docID uuid.UUID) error
}

var ErrDocumentNotFound = errors.New("document not found")

// ReconstructionService rewrites raw table pages into clean Markdown
// tables and re-embeds them, fragment by fragment.
type ReconstructionService struct {
	docs     TableStore
	gen      Generator
	embedder Embedder
	jobs     *JobController
	queue    ReconstructionEnqueuer
}

func NewReconstructionService(docs TableStore, gen Generator, embedder Embedder, jobs *JobController, queue ReconstructionEnqueuer) *ReconstructionService {
	return &ReconstructionService{docs: docs, gen: gen, embedder: embedder, jobs: jobs, queue: queue}
}

// Start claims the document's rewrite slot and enqueues the run.
func (s *ReconstructionService) Start(ctx context.Context, docID uuid.UUID) (StartResult, error) {
	doc, err := s.docs.Get(ctx, docID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ErrDocumentNotFound
	}

	fragments, err := s.docs.TableFragments(ctx, docID)
	if err != nil {
		return "", err
	}
	if len(fragments) == 0 {
		return StartNoInput, nil
	}

	name := ReconstructionJobName(docID)
	if err := s.jobs.Start(ctx, name, len(fragments)); err != nil {
		if errors.Is(err, ErrJobAlreadyRunning) {
			return StartAlreadyRunning, nil
		}
		return "", err
	}

	if err := s.queue.EnqueueReconstruction(ctx, docID); err != nil {
		if finishErr := s.jobs.Finish(ctx, name, false, 0, 0, err); finishErr != nil {
			logger.Error("failed to settle job after enqueue failure", "error", finishErr)
		}
		return "", fmt.Errorf("enqueue reconstruction: %w", err)
	}

	logger.Info("reconstruction accepted", "document_id", docID, "tables", len(fragments))
	return StartAccepted, nil
}

// Run is the worker body. Each table fragment is rewritten and
// re-embedded independently; one refused or failed page does not stop
// the rest. Runs out of credentials end the batch early, nothing after
// that point could succeed.
func (s *ReconstructionService) Run(ctx context.Context, docID uuid.UUID) error {
	name := ReconstructionJobName(docID)

	fragments, err := s.docs.TableFragments(ctx, docID)
	if err != nil {
		return s.jobs.Finish(ctx, name, false, 0, 0, err)
	}

	var processed, failed int
	var stopped bool
	var fatal error

	for i, frag := range fragments {
		if stop, err := s.jobs.ShouldStop(ctx, name); err != nil {
			logger.Warn("stop poll failed", "job", name, "error", err)
		} else if stop {
			stopped = true
			break
		}

		s.jobs.Heartbeat(ctx, name, processed,
			fmt.Sprintf("rewriting table %d/%d (page %d)", i+1, len(fragments), frag.PageNumber))

		if err := s.reconstructFragment(ctx, frag); err != nil {
			if errors.Is(err, ai.ErrAllCredentialsExhausted) || errors.Is(err, ai.ErrServiceDegraded) {
				fatal = err
				break
			}
			logger.Error("table rewrite failed",
				"fragment_id", frag.ID, "page", frag.PageNumber, "error", err)
			failed++
		}
		processed++
	}

	return s.jobs.Finish(ctx, name, stopped, processed, failed, fatal)
}

func (s *ReconstructionService) reconstructFragment(ctx context.Context, frag *models.ContentFragment) error {
	text, err := s.gen.Generate(ctx, reconstructionPrompt(frag.Content))
	if err != nil {
		return err
	}
	if text == "" {
		return errors.New("empty rewrite response")
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		// The rewrite is still worth keeping; the vector can be
		// backfilled by a later pass.
		logger.Warn("rewrite embedding failed", "fragment_id", frag.ID, "error", err)
		embedding = nil
	}
	return s.docs.UpdateContent(ctx, frag.ID, text, embedding)
}

// reconstructionPrompt asks the model to keep narrative text intact
// and rebuild only the table portion as Markdown, flattening both
// vertical header hierarchies and horizontally spanning headers into
// single descriptive column names.
func reconstructionPrompt(rawPage string) string {
	return fmt.Sprintf(`Anda adalah seorang editor dan analis data profesional dengan spesialisasi pada data statistik resmi.
Diberikan teks mentah dari satu halaman penuh sebuah dokumen. Teks ini berisi paragraf penjelasan dan juga bagian tabel yang mungkin tidak terstruktur.

## TUGAS UTAMA ANDA:
Revisi seluruh teks halaman ini dengan tetap mempertahankan semua paragraf penjelasan dan HANYA merekonstruksi bagian tabel mentah menjadi format tabel Markdown yang bersih.

## ATURAN WAJIB UNTUK REKONSTRUKSI TABEL:

**1. PENANGANAN HEADER HIERARKIS (VERTIKAL):**
   - Jika header induk mencakup sub-header di bawahnya, GABUNGKAN teks dari header induk ke setiap sub-headernya, dipisahkan oleh tanda hubung.
   - Contoh: header "Angkatan Kerja" dengan sub-header "Bekerja" menjadi header kolom final "Angkatan Kerja - Bekerja".
   - Jangan pernah memperlakukan header tingkat manapun sebagai baris data.

**2. PENANGANAN HEADER YANG MERENTANG (HORIZONTAL):**
   - Jika satu header utama mencakup beberapa kolom di bawahnya (misal kolom "juta orang" dan kolom "persen"), WAJIB buat kolom terpisah untuk setiap sub-kategori, dengan header utama digabungkan ke unit atau sub-kategorinya.

**3. PERTAHANKAN TEKS NARASI:**
   Semua teks narasi dan paragraf di luar tabel harus dipertahankan di posisi aslinya. JANGAN mengubah atau menghapusnya.

**4. HASIL AKHIR:**
   Hasil akhir harus berupa teks halaman lengkap, dengan paragraf utuh dan tabel yang sudah diformat sesuai SEMUA aturan di atas. Jawab hanya dengan teks hasil revisi, tanpa komentar tambahan.

--- TEKS MENTAH DARI HALAMAN PDF ---
%s
--- AKHIR TEKS MENTAH ---`, rawPage)
}
