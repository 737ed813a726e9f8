// Package vector provides similarity search over the embedded corpora.
package vector

import (
	"context"

	"github.com/google/uuid"

	"regional-stats-chatbot/models"
)

// NewsHit is one news release scored against a query embedding.
// Distance is cosine distance, smaller is closer.
type NewsHit struct {
	Item     *models.NewsItem
	Distance float64
}

// FragmentHit is one document fragment scored against a query embedding.
type FragmentHit struct {
	Fragment *models.ContentFragment
	Distance float64
}

// Index is the similarity search surface over the two collections.
// Upserts keep the stored vector in lockstep with the row content.
type Index interface {
	UpsertNews(ctx context.Context, item *models.NewsItem) error
	UpsertFragment(ctx context.Context, frag *models.ContentFragment) error
	QueryNews(ctx context.Context, embedding []float32, limit int) ([]NewsHit, error)
	QueryFragments(ctx context.Context, embedding []float32, limit int) ([]FragmentHit, error)
	DeleteFragments(ctx context.Context, ids []uuid.UUID) error
}
