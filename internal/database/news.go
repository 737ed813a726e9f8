package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"regional-stats-chatbot/models"
)

// NewsStore persists news releases.
type NewsStore struct {
	pool *pgxpool.Pool
}

func NewNewsStore(pool *pgxpool.Pool) *NewsStore {
	return &NewsStore{pool: pool}
}

const newsColumns = `id, title, release_date, summary, link, tags, created_at, updated_at`

func scanNews(row pgx.Row) (*models.NewsItem, error) {
	var item models.NewsItem
	err := row.Scan(&item.ID, &item.Title, &item.ReleaseDate, &item.Summary, &item.Link,
		&item.Tags, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan news item: %w", err)
	}
	return &item, nil
}

// Create inserts a news item together with its embedding.
func (s *NewsStore) Create(ctx context.Context, item *models.NewsItem) error {
	if item.Tags == nil {
		item.Tags = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO news_items (title, release_date, summary, link, tags, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		item.Title, item.ReleaseDate, item.Summary, item.Link, item.Tags, vecOrNil(item.Embedding)).
		Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("insert news item: %w", err)
	}
	return nil
}

// Update rewrites the embedded fields and the vector together, so the
// stored embedding always reflects the current text.
func (s *NewsStore) Update(ctx context.Context, item *models.NewsItem) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE news_items
		SET title = $2, release_date = $3, summary = $4, link = $5, tags = $6, embedding = $7, updated_at = now()
		WHERE id = $1`,
		item.ID, item.Title, item.ReleaseDate, item.Summary, item.Link, item.Tags, vecOrNil(item.Embedding))
	if err != nil {
		return fmt.Errorf("update news item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("news item %d not found", item.ID)
	}
	return nil
}

// Get returns one news item, nil when missing.
func (s *NewsStore) Get(ctx context.Context, id int64) (*models.NewsItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+newsColumns+` FROM news_items WHERE id = $1`, id)
	return scanNews(row)
}

// ListByYear returns the most recent releases of one year. Used as the
// structured fallback when vector search returns nothing for a
// requested year.
func (s *NewsStore) ListByYear(ctx context.Context, year, limit int) ([]*models.NewsItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+newsColumns+` FROM news_items
		WHERE EXTRACT(YEAR FROM release_date) = $1
		ORDER BY release_date DESC
		LIMIT $2`, year, limit)
	if err != nil {
		return nil, fmt.Errorf("list news by year: %w", err)
	}
	defer rows.Close()

	var items []*models.NewsItem
	for rows.Next() {
		item, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Delete removes a news item.
func (s *NewsStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM news_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete news item: %w", err)
	}
	return nil
}
