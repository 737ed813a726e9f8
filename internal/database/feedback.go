package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"regional-stats-chatbot/models"
)

// FeedbackStore accumulates per-entity relevance feedback.
type FeedbackStore struct {
	pool *pgxpool.Pool
}

func NewFeedbackStore(pool *pgxpool.Pool) *FeedbackStore {
	return &FeedbackStore{pool: pool}
}

// Record counts one vote for an entity and recomputes the smoothed
// score in the same statement.
func (s *FeedbackStore) Record(ctx context.Context, ref models.SourceRef, positive bool) error {
	pos, neg := 0, 1
	if positive {
		pos, neg = 1, 0
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback_scores (entity_kind, entity_id, positive, negative, score)
		VALUES ($1, $2, $3, $4, ($3 + 1)::float8 / ($3 + $4 + 2))
		ON CONFLICT (entity_kind, entity_id) DO UPDATE SET
			positive = feedback_scores.positive + EXCLUDED.positive,
			negative = feedback_scores.negative + EXCLUDED.negative,
			score = (feedback_scores.positive + EXCLUDED.positive + 1)::float8 /
				(feedback_scores.positive + EXCLUDED.positive + feedback_scores.negative + EXCLUDED.negative + 2)`,
		ref.Kind, ref.ID, pos, neg)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// Scores fetches the stored scores for a batch of refs in one query.
// Refs with no feedback are simply absent from the map; callers treat
// missing entries as the neutral 0.5.
func (s *FeedbackStore) Scores(ctx context.Context, refs []models.SourceRef) (map[string]float64, error) {
	scores := make(map[string]float64, len(refs))
	if len(refs) == 0 {
		return scores, nil
	}

	kinds := make([]string, len(refs))
	ids := make([]string, len(refs))
	for i, ref := range refs {
		kinds[i] = ref.Kind
		ids[i] = ref.ID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT entity_kind, entity_id, score
		FROM feedback_scores
		WHERE (entity_kind, entity_id) IN (
			SELECT unnest($1::text[]), unnest($2::text[])
		)`, kinds, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch feedback scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, id string
		var score float64
		if err := rows.Scan(&kind, &id, &score); err != nil {
			return nil, fmt.Errorf("scan feedback score: %w", err)
		}
		scores[models.SourceRef{Kind: kind, ID: id}.Key()] = score
	}
	return scores, rows.Err()
}
