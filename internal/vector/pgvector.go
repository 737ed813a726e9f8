package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"regional-stats-chatbot/models"
)

// PGIndex implements Index directly over the pgvector columns of the
// news_items and content_fragments tables. Rows without an embedding
// (failed generation) are invisible to search until backfilled.
type PGIndex struct {
	pool *pgxpool.Pool
}

func NewPGIndex(pool *pgxpool.Pool) *PGIndex {
	return &PGIndex{pool: pool}
}

func (x *PGIndex) UpsertNews(ctx context.Context, item *models.NewsItem) error {
	tag, err := x.pool.Exec(ctx, `
		UPDATE news_items SET embedding = $2, updated_at = now() WHERE id = $1`,
		item.ID, pgvector.NewVector(item.Embedding))
	if err != nil {
		return fmt.Errorf("upsert news embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("news item %d not found", item.ID)
	}
	return nil
}

func (x *PGIndex) UpsertFragment(ctx context.Context, frag *models.ContentFragment) error {
	tag, err := x.pool.Exec(ctx, `
		UPDATE content_fragments SET embedding = $2, updated_at = now() WHERE id = $1`,
		frag.ID, pgvector.NewVector(frag.Embedding))
	if err != nil {
		return fmt.Errorf("upsert fragment embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fragment %s not found", frag.ID)
	}
	return nil
}

func (x *PGIndex) QueryNews(ctx context.Context, embedding []float32, limit int) ([]NewsHit, error) {
	rows, err := x.pool.Query(ctx, `
		SELECT id, title, release_date, summary, link, tags, created_at, updated_at,
			embedding <=> $1 AS distance
		FROM news_items
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	defer rows.Close()

	var hits []NewsHit
	for rows.Next() {
		var item models.NewsItem
		var distance float64
		err := rows.Scan(&item.ID, &item.Title, &item.ReleaseDate, &item.Summary, &item.Link,
			&item.Tags, &item.CreatedAt, &item.UpdatedAt, &distance)
		if err != nil {
			return nil, fmt.Errorf("scan news hit: %w", err)
		}
		hits = append(hits, NewsHit{Item: &item, Distance: distance})
	}
	return hits, rows.Err()
}

func (x *PGIndex) QueryFragments(ctx context.Context, embedding []float32, limit int) ([]FragmentHit, error) {
	rows, err := x.pool.Query(ctx, `
		SELECT f.id, f.document_id, f.page_number, f.content_kind, f.content,
			COALESCE(f.reconstructed, ''), f.detection, f.created_at, f.updated_at,
			d.display_name, d.link,
			f.embedding <=> $1 AS distance
		FROM content_fragments f JOIN source_documents d ON d.id = f.document_id
		WHERE f.embedding IS NOT NULL
		ORDER BY f.embedding <=> $1
		LIMIT $2`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	var hits []FragmentHit
	for rows.Next() {
		var frag models.ContentFragment
		var distance float64
		err := rows.Scan(&frag.ID, &frag.DocumentID, &frag.PageNumber, &frag.Kind, &frag.Content,
			&frag.Reconstructed, &frag.Detection, &frag.CreatedAt, &frag.UpdatedAt,
			&frag.DocumentName, &frag.DocumentLink, &distance)
		if err != nil {
			return nil, fmt.Errorf("scan fragment hit: %w", err)
		}
		hits = append(hits, FragmentHit{Fragment: &frag, Distance: distance})
	}
	return hits, rows.Err()
}

func (x *PGIndex) DeleteFragments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := x.pool.Exec(ctx, `
		UPDATE content_fragments SET embedding = NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("delete fragment embeddings: %w", err)
	}
	return nil
}
