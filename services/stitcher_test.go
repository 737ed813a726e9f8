package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regional-stats-chatbot/models"
)

type fakeSiblings struct {
	frags  []*models.ContentFragment
	calls  int
	lastIn []uuid.UUID
}

func (f *fakeSiblings) FragmentsByDocuments(ctx context.Context, docIDs []uuid.UUID) ([]*models.ContentFragment, error) {
	f.calls++
	f.lastIn = docIDs
	return f.frags, nil
}

func tableFrag(docID uuid.UUID, page int, content string) *models.ContentFragment {
	return &models.ContentFragment{
		ID:         uuid.New(),
		DocumentID: docID,
		PageNumber: page,
		Kind:       models.KindTable,
		Content:    content,
	}
}

// splitTable builds a three-page table: origin on page 10, two
// continuation pages after it, unrelated table on page 13.
func splitTable(docID uuid.UUID) []*models.ContentFragment {
	return []*models.ContentFragment{
		tableFrag(docID, 10, "Tabel 5.1 Produksi Padi (1) (2)"),
		tableFrag(docID, 11, "Lanjutan Tabel 5.1 (1) (2)"),
		tableFrag(docID, 12, "Lanjutan Tabel 5.1 (1) (2)"),
		tableFrag(docID, 13, "Tabel 6.1 Produksi Jagung (1) (2)"),
	}
}

func TestStitchPullsWholeTableFromMiddlePage(t *testing.T) {
	docID := uuid.New()
	siblings := splitTable(docID)
	store := &fakeSiblings{frags: siblings}
	s := NewStitcher(store)

	results := []Retrieved{{Fragment: siblings[1], Distance: 0.12}}
	out, err := s.Stitch(context.Background(), results)
	require.NoError(t, err)

	pages := make(map[int]float64)
	for _, r := range out {
		pages[r.Fragment.PageNumber] = r.Distance
	}
	assert.Len(t, out, 3)
	assert.Contains(t, pages, 10, "origin page joins backward")
	assert.Contains(t, pages, 11)
	assert.Contains(t, pages, 12, "trailing continuation joins forward")
	assert.NotContains(t, pages, 13, "next table stays out")

	assert.Equal(t, 0.12, pages[10], "added pages inherit the trigger's distance")
	assert.Equal(t, 0.12, pages[12])
	assert.Equal(t, 1, store.calls, "one batched sibling fetch")
}

func TestStitchForwardOnlyFromOriginPage(t *testing.T) {
	docID := uuid.New()
	siblings := splitTable(docID)
	s := NewStitcher(&fakeSiblings{frags: siblings})

	results := []Retrieved{{Fragment: siblings[0], Distance: 0.2}}
	out, err := s.Stitch(context.Background(), results)
	require.NoError(t, err)

	pages := make(map[int]struct{})
	for _, r := range out {
		pages[r.Fragment.PageNumber] = struct{}{}
	}
	assert.Len(t, out, 3)
	_, hasNine := pages[9]
	assert.False(t, hasNine, "an origin page never scans backward")
	assert.Contains(t, pages, 11)
	assert.Contains(t, pages, 12)
}

func TestStitchIgnoresNarrativeWindows(t *testing.T) {
	docID := uuid.New()
	// A narrative window that happens to mention "lanjutan tabel" on
	// the page after a retrieved table must not be stitched in; only
	// whole-page fragments chain.
	text := &models.ContentFragment{
		ID:         uuid.New(),
		DocumentID: docID,
		PageNumber: 14,
		Kind:       models.KindText,
		Content:    "Lanjutan tabel dibahas pada bagian berikutnya.",
	}
	siblings := append(splitTable(docID), text)
	s := NewStitcher(&fakeSiblings{frags: siblings})

	results := []Retrieved{{Fragment: siblings[3], Distance: 0.3}}
	out, err := s.Stitch(context.Background(), results)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestStitchNoFragmentsNoFetch(t *testing.T) {
	store := &fakeSiblings{}
	s := NewStitcher(store)

	results := []Retrieved{{News: newsFor(1, 2024), Distance: 0.1}}
	out, err := s.Stitch(context.Background(), results)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Zero(t, store.calls, "news-only results skip the sibling fetch")
}

func TestStitchDeduplicatesAcrossTriggers(t *testing.T) {
	docID := uuid.New()
	siblings := splitTable(docID)
	s := NewStitcher(&fakeSiblings{frags: siblings})

	results := []Retrieved{
		{Fragment: siblings[1], Distance: 0.1},
		{Fragment: siblings[2], Distance: 0.4},
	}
	out, err := s.Stitch(context.Background(), results)
	require.NoError(t, err)

	seen := make(map[uuid.UUID]int)
	for _, r := range out {
		seen[r.Fragment.ID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "fragment %s added twice", id)
	}
	assert.Len(t, out, 3)
}
