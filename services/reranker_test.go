package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regional-stats-chatbot/models"
)

type fakeFeedback struct {
	scores map[string]float64
}

func (f *fakeFeedback) Scores(ctx context.Context, refs []models.SourceRef) (map[string]float64, error) {
	return f.scores, nil
}

func newTestReranker(scores map[string]float64) *Reranker {
	r := NewReranker(&fakeFeedback{scores: scores})
	r.now = func() time.Time {
		return time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	}
	return r
}

func TestRerankRequestedYearBeatsRecency(t *testing.T) {
	old := Retrieved{News: newsFor(1, 2020), Distance: 0.3}
	recent := Retrieved{
		News:     &models.NewsItem{ID: 2, ReleaseDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		Distance: 0.3,
	}
	r := newTestReranker(nil)

	// Without a requested year, recency decay buries the 2020 release.
	out, err := r.Rerank(context.Background(), []Retrieved{old, recent}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out[0].News.ID)

	// Asking for 2020 pins its recency at the maximum and flips the order.
	out, err = r.Rerank(context.Background(), []Retrieved{old, recent}, []int{2020})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out[0].News.ID)
}

func TestRerankFeedbackLiftsResults(t *testing.T) {
	a := Retrieved{News: newsFor(1, 2025), Distance: 0.3}
	b := Retrieved{News: newsFor(2, 2025), Distance: 0.3}
	r := newTestReranker(map[string]float64{b.Ref().Key(): 0.95})

	out, err := r.Rerank(context.Background(), []Retrieved{a, b}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out[0].News.ID, "positive feedback outranks the unknown default")
}

func TestRerankTableFragmentsPreferred(t *testing.T) {
	when := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	text := Retrieved{
		Fragment: &models.ContentFragment{ID: uuid.New(), Kind: models.KindText, UpdatedAt: when},
		Distance: 0.3,
	}
	table := Retrieved{
		Fragment: &models.ContentFragment{ID: uuid.New(), Kind: models.KindTable, UpdatedAt: when},
		Distance: 0.3,
	}
	r := newTestReranker(nil)

	out, err := r.Rerank(context.Background(), []Retrieved{text, table}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindTable, out[0].Fragment.Kind)
}

func TestRerankStableOnTies(t *testing.T) {
	a := Retrieved{News: newsFor(1, 2025), Distance: 0.2}
	b := Retrieved{News: newsFor(2, 2025), Distance: 0.2}
	r := newTestReranker(nil)

	out, err := r.Rerank(context.Background(), []Retrieved{a, b}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out[0].News.ID, "equal scores keep retrieval order")
	assert.Equal(t, int64(2), out[1].News.ID)
}

func TestRerankEmptyInput(t *testing.T) {
	r := newTestReranker(nil)
	out, err := r.Rerank(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
