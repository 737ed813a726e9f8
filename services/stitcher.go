package services

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"regional-stats-chatbot/models"
)

// continuationPattern marks pages carrying the tail of a table split
// across page boundaries. Bilingual, matching the corpus.
var continuationPattern = regexp.MustCompile(`(?i)(lanjutan tabel|tabel.*lanjutan|continued table)`)

// SiblingFetcher loads every fragment of the given documents in one
// round trip.
type SiblingFetcher interface {
	FragmentsByDocuments(ctx context.Context, docIDs []uuid.UUID) ([]*models.ContentFragment, error)
}

// Stitcher repairs split tables after retrieval. Continuation pages
// rarely resemble the query semantically, so when retrieval surfaces
// any page of a multi-page table the stitcher walks the page chain and
// pulls in the rest.
type Stitcher struct {
	store SiblingFetcher
}

func NewStitcher(store SiblingFetcher) *Stitcher {
	return &Stitcher{store: store}
}

// Stitch augments the result set with the missing pages of any
// continued table it touches. One batched sibling fetch covers all
// documents; the scans then run in memory. Added pages inherit the
// distance of the fragment that pulled them in, keeping each table
// group together through reranking.
func (s *Stitcher) Stitch(ctx context.Context, results []Retrieved) ([]Retrieved, error) {
	docIDs := make(map[uuid.UUID]struct{})
	for _, r := range results {
		if r.Fragment != nil {
			docIDs[r.Fragment.DocumentID] = struct{}{}
		}
	}
	if len(docIDs) == 0 {
		return results, nil
	}

	ids := make([]uuid.UUID, 0, len(docIDs))
	for id := range docIDs {
		ids = append(ids, id)
	}
	siblings, err := s.store.FragmentsByDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch sibling fragments: %w", err)
	}

	// {document: {page: fragment}} for the in-memory scans. Narrative
	// windows share a page with nothing, only whole-page fragments
	// participate.
	byDocPage := make(map[uuid.UUID]map[int]*models.ContentFragment)
	for _, frag := range siblings {
		if !frag.IsWholePage() {
			continue
		}
		pages := byDocPage[frag.DocumentID]
		if pages == nil {
			pages = make(map[int]*models.ContentFragment)
			byDocPage[frag.DocumentID] = pages
		}
		pages[frag.PageNumber] = frag
	}

	have := make(map[uuid.UUID]struct{}, len(results))
	for _, r := range results {
		if r.Fragment != nil {
			have[r.Fragment.ID] = struct{}{}
		}
	}

	augmented := results
	add := func(frag *models.ContentFragment, distance float64) {
		if _, ok := have[frag.ID]; ok {
			return
		}
		have[frag.ID] = struct{}{}
		augmented = append(augmented, Retrieved{Fragment: frag, Distance: distance})
	}

	for _, r := range results {
		if r.Fragment == nil {
			continue
		}
		frag := r.Fragment
		pages := byDocPage[frag.DocumentID]
		if pages == nil {
			continue
		}

		// Backward: a retrieved continuation page implies earlier
		// pages. Walk back adding each, stopping after the first
		// non-continuation page, which is the table's origin.
		if continuationPattern.MatchString(frag.Content) {
			for page := frag.PageNumber - 1; page > 0; page-- {
				prev, ok := pages[page]
				if !ok {
					break
				}
				add(prev, r.Distance)
				if !continuationPattern.MatchString(prev.Content) {
					break
				}
			}
		}

		// Forward: trailing pages are included while they carry the
		// continuation marker.
		for page := frag.PageNumber + 1; ; page++ {
			next, ok := pages[page]
			if !ok || !continuationPattern.MatchString(next.Content) {
				break
			}
			add(next, r.Distance)
		}
	}
	return augmented, nil
}
