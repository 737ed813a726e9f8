package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"regional-stats-chatbot/models"
)

// FeedbackSource loads accumulated relevance feedback for a batch of
// source refs.
type FeedbackSource interface {
	Scores(ctx context.Context, refs []models.SourceRef) (map[string]float64, error)
}

// sawWeights is one weight profile for Simple Additive Weighting. The
// four criteria sum to 1.
type sawWeights struct {
	relevance   float64
	feedback    float64
	recency     float64
	contentType float64
}

var (
	// generalWeights apply when the user did not pin specific years.
	generalWeights = sawWeights{relevance: 0.40, feedback: 0.35, recency: 0.15, contentType: 0.10}

	// yearWeights apply when years were requested: relevance matters
	// more and recency bias is suppressed, an old year asked for
	// explicitly must not be punished for being old.
	yearWeights = sawWeights{relevance: 0.50, feedback: 0.30, recency: 0.05, contentType: 0.15}
)

// recencyHorizon is the linear decay span: items older than this score
// zero on recency.
const recencyHorizon = 365 * 24 * time.Hour

// Reranker reorders retrieval results by a weighted sum of normalized
// criteria: vector relevance, accumulated feedback, recency and
// content type.
type Reranker struct {
	feedback FeedbackSource
	now      func() time.Time
}

func NewReranker(feedback FeedbackSource) *Reranker {
	return &Reranker{feedback: feedback, now: time.Now}
}

func decay(age time.Duration) float64 {
	score := 1 - float64(age)/float64(recencyHorizon)
	if score < 0 {
		return 0
	}
	return score
}

func (r *Reranker) recencyScore(item Retrieved, requestedYears []int) float64 {
	now := r.now()

	if item.News != nil {
		if item.News.ReleaseDate.IsZero() {
			return 0.5
		}
		year := item.News.ReleaseDate.Year()
		for _, y := range requestedYears {
			if y == year {
				// The user asked for this year; decay must not bury it.
				return 1.0
			}
		}
		return decay(now.Sub(item.News.ReleaseDate))
	}

	if item.Fragment.UpdatedAt.IsZero() {
		return 0.5
	}
	return decay(now.Sub(item.Fragment.UpdatedAt))
}

func contentTypeScore(item Retrieved) float64 {
	if item.Fragment != nil && item.Fragment.Kind == models.KindTable {
		return 1.0
	}
	return 0.5
}

// Rerank orders results descending by SAW score. The sort is stable,
// ties keep their retrieval (distance) order.
func (r *Reranker) Rerank(ctx context.Context, results []Retrieved, requestedYears []int) ([]Retrieved, error) {
	if len(results) == 0 {
		return results, nil
	}

	refs := make([]models.SourceRef, len(results))
	for i, item := range results {
		refs[i] = item.Ref()
	}
	feedbackScores, err := r.feedback.Scores(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load feedback scores: %w", err)
	}

	w := generalWeights
	if len(requestedYears) > 0 {
		w = yearWeights
	}

	type scored struct {
		item  Retrieved
		score float64
	}
	items := make([]scored, len(results))
	for i, item := range results {
		feedback, ok := feedbackScores[refs[i].Key()]
		if !ok {
			feedback = 0.5
		}

		score := (1-item.Distance)*w.relevance +
			feedback*w.feedback +
			r.recencyScore(item, requestedYears)*w.recency +
			contentTypeScore(item)*w.contentType

		items[i] = scored{item: item, score: score}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})

	out := make([]Retrieved, len(items))
	for i, s := range items {
		out[i] = s.item
	}
	return out, nil
}
