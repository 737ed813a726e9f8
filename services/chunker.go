package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/models"
)

// Chunker turns classified pages into persisted fragments: whole pages
// for tables and image-only pages, overlapping sliding-window slices
// for narrative runs.
type Chunker struct {
	WindowSize int
	Overlap    int
	FlushLen   int
}

func NewChunker(windowSize, overlap, flushLen int) *Chunker {
	return &Chunker{WindowSize: windowSize, Overlap: overlap, FlushLen: flushLen}
}

// PageSink commits the fragments produced for one durable step. page
// is the highest fully processed page; the sink advances the
// ingestion watermark to it in the same transaction.
type PageSink func(ctx context.Context, page int, fragments []*models.ContentFragment) error

// StopCheck reports whether the owning job has been asked to stop. It
// is consulted before each page and each flush.
type StopCheck func(ctx context.Context) (bool, error)

// PageCapture renders a page screenshot and returns its stored path,
// or "" when rasterization is unavailable or failed.
type PageCapture func(ctx context.Context, page int) string

// ChunkResult summarizes one chunker run.
type ChunkResult struct {
	Stopped   bool
	LastPage  int
	Fragments int
	PageErrs  int
}

// window is one narrative slice with its rune offsets in the buffer.
type window struct {
	text       string
	start, end int
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// SliceWindows splits narrative text into overlapping windows of
// roughly WindowSize runes. The cut point prefers a sentence boundary
// within the second half of the window, then the nearest whitespace,
// then a hard cut. The next window starts at max(prev+1, end-Overlap)
// so progress is guaranteed even on pathological text.
func (c *Chunker) SliceWindows(text string) []string {
	wins := c.sliceWithOffsets(text)
	out := make([]string, 0, len(wins))
	for _, w := range wins {
		out = append(out, w.text)
	}
	return out
}

func (c *Chunker) sliceWithOffsets(text string) []window {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.WindowSize {
		return []window{{text: string(runes), start: 0, end: len(runes)}}
	}

	var wins []window
	start := 0
	for start < len(runes) {
		end := start + c.WindowSize
		if end >= len(runes) {
			if w := strings.TrimSpace(string(runes[start:])); w != "" {
				wins = append(wins, window{text: w, start: start, end: len(runes)})
			}
			break
		}

		cut := c.findCut(runes, start, end)
		if w := strings.TrimSpace(string(runes[start:cut])); w != "" {
			wins = append(wins, window{text: w, start: start, end: cut})
		}

		next := cut - c.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return wins
}

func (c *Chunker) findCut(runes []rune, start, end int) int {
	minCut := start + c.WindowSize/2

	for i := end - 1; i >= minCut; i-- {
		if isSentenceEnd(runes[i]) {
			return i + 1
		}
	}
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

// narrativeBuffer accumulates text pages until a flush boundary. After
// a partial flush the buffer starts with the last emitted window (the
// overlap seed); seedLen marks that prefix so it is never emitted a
// second time.
type narrativeBuffer struct {
	text       strings.Builder
	anchorPage int
	seedLen    int
}

func (b *narrativeBuffer) add(page int, text string) {
	if b.text.Len() == 0 {
		b.anchorPage = page
	} else {
		b.text.WriteString("\n")
	}
	b.text.WriteString(text)
}

func (b *narrativeBuffer) reset() {
	b.text.Reset()
	b.anchorPage = 0
	b.seedLen = 0
}

func (b *narrativeBuffer) hasNewContent() bool {
	return len([]rune(b.text.String())) > b.seedLen
}

// Run chunks the classified pages of one document, committing through
// sink at durable boundaries. Pages at or below resumeFrom were
// committed by an earlier run and are skipped. A stop request ends the
// run cleanly with Stopped set; prior commits stay intact.
func (c *Chunker) Run(
	ctx context.Context,
	doc *models.SourceDocument,
	pages []PageText,
	resumeFrom int,
	shouldStop StopCheck,
	capture PageCapture,
	sink PageSink,
) (ChunkResult, error) {
	var result ChunkResult
	var buf narrativeBuffer

	// flush emits the buffered narrative run up to and including
	// upToPage. On a partial flush the last window is re-kept as the
	// overlap seed; windows entirely inside the seed prefix were
	// already committed and are skipped.
	flush := func(upToPage int, partial bool) error {
		if !buf.hasNewContent() {
			return nil
		}
		if stopped, err := shouldStop(ctx); err != nil {
			return err
		} else if stopped {
			result.Stopped = true
			return nil
		}

		wins := c.sliceWithOffsets(buf.text.String())
		anchor := buf.anchorPage

		fragments := make([]*models.ContentFragment, 0, len(wins))
		for _, w := range wins {
			if w.end <= buf.seedLen {
				continue
			}
			fragments = append(fragments, &models.ContentFragment{
				DocumentID: doc.ID,
				PageNumber: anchor,
				Kind:       models.KindText,
				Content:    w.text,
				Detection:  models.DetectionInfo{Reason: "narrative_window"},
			})
		}
		if len(fragments) > 0 {
			if err := sink(ctx, upToPage, fragments); err != nil {
				return fmt.Errorf("flush narrative run at page %d: %w", upToPage, err)
			}
			result.Fragments += len(fragments)
			result.LastPage = upToPage
		}

		if partial && len(wins) > 0 {
			seed := wins[len(wins)-1].text
			buf.reset()
			buf.add(upToPage, seed)
			buf.seedLen = len([]rune(seed))
		} else {
			buf.reset()
		}
		return nil
	}

	for _, page := range pages {
		if page.Number <= resumeFrom {
			continue
		}

		if stopped, err := shouldStop(ctx); err != nil {
			return result, err
		} else if stopped {
			result.Stopped = true
			return result, nil
		}

		cls := ClassifyPage(page.Text, page.Number)

		switch {
		case cls.Excluded:
			// Dropped, but the watermark must still move or a resume
			// would revisit the page forever. Held back while
			// narrative text is buffered so a crash cannot skip an
			// uncommitted run.
			if !buf.hasNewContent() {
				if err := sink(ctx, page.Number, nil); err != nil {
					return result, err
				}
				result.LastPage = page.Number
			}

		case cls.ImageOnly, cls.IsTable:
			// A table/image page forces the narrative run out first so
			// page attribution stays correct.
			if err := flush(page.Number-1, false); err != nil {
				return result, err
			}
			if result.Stopped {
				return result, nil
			}

			kind := models.KindTable
			if cls.ImageOnly {
				kind = models.KindImageOnly
			}
			frag := &models.ContentFragment{
				DocumentID: doc.ID,
				PageNumber: page.Number,
				Kind:       kind,
				Content:    CleanPageText(page.Text),
				Detection: models.DetectionInfo{
					Reason:    cls.Reason,
					ImagePath: capture(ctx, page.Number),
				},
			}
			if err := sink(ctx, page.Number, []*models.ContentFragment{frag}); err != nil {
				logger.Error("page commit failed", "document", doc.DisplayName, "page", page.Number, "error", err)
				result.PageErrs++
				continue
			}
			result.Fragments++
			result.LastPage = page.Number

		default:
			buf.add(page.Number, CleanPageText(page.Text))
			if buf.text.Len() > c.FlushLen {
				if err := flush(page.Number, true); err != nil {
					return result, err
				}
				if result.Stopped {
					return result, nil
				}
			}
		}
	}

	if err := flush(lastPageNumber(pages), false); err != nil {
		return result, err
	}
	return result, nil
}

func lastPageNumber(pages []PageText) int {
	if len(pages) == 0 {
		return 0
	}
	return pages[len(pages)-1].Number
}
