package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"regional-stats-chatbot/models"
)

// DocumentStore persists source documents and their content fragments.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

// vecOrNil maps an absent embedding to SQL NULL.
func vecOrNil(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// GetByHash looks a document up by its content hash. Returns nil when
// no document matches.
func (s *DocumentStore) GetByHash(ctx context.Context, hash string) (*models.SourceDocument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, display_name, link, total_pages, ingested_pages, content_hash, metadata, created_at, updated_at
		FROM source_documents WHERE content_hash = $1`, hash)
	return scanDocument(row)
}

// Get returns a document by id, nil when missing.
func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.SourceDocument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, display_name, link, total_pages, ingested_pages, content_hash, metadata, created_at, updated_at
		FROM source_documents WHERE id = $1`, id)
	return scanDocument(row)
}

func scanDocument(row pgx.Row) (*models.SourceDocument, error) {
	var doc models.SourceDocument
	err := row.Scan(&doc.ID, &doc.DisplayName, &doc.Link, &doc.TotalPages, &doc.IngestedPages,
		&doc.ContentHash, &doc.Metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// Create inserts a new document row.
func (s *DocumentStore) Create(ctx context.Context, doc *models.SourceDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_documents (id, display_name, link, total_pages, ingested_pages, content_hash, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.DisplayName, doc.Link, doc.TotalPages, doc.IngestedPages, doc.ContentHash, doc.Metadata)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// List returns all documents, newest first.
func (s *DocumentStore) List(ctx context.Context) ([]*models.SourceDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, link, total_pages, ingested_pages, content_hash, metadata, created_at, updated_at
		FROM source_documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a document; fragments cascade at the database level.
func (s *DocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM source_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// CommitPage stores every fragment produced for one page together with
// the advanced ingestion watermark in a single transaction, so a crash
// between pages never leaves half a page behind.
func (s *DocumentStore) CommitPage(ctx context.Context, docID uuid.UUID, page int, fragments []*models.ContentFragment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit page: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, frag := range fragments {
		if frag.ID == uuid.Nil {
			frag.ID = uuid.New()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO content_fragments (id, document_id, page_number, content_kind, content, detection, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			frag.ID, frag.DocumentID, frag.PageNumber, frag.Kind, frag.Content, frag.Detection, vecOrNil(frag.Embedding))
		if err != nil {
			return fmt.Errorf("insert fragment page %d: %w", page, err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE source_documents SET ingested_pages = $2, updated_at = now()
		WHERE id = $1 AND ingested_pages < $2`, docID, page)
	if err != nil {
		return fmt.Errorf("advance ingestion watermark: %w", err)
	}

	return tx.Commit(ctx)
}

const fragmentColumns = `
	f.id, f.document_id, f.page_number, f.content_kind, f.content,
	COALESCE(f.reconstructed, ''), f.detection, f.created_at, f.updated_at,
	d.display_name, d.link`

func scanFragment(row pgx.Row) (*models.ContentFragment, error) {
	var frag models.ContentFragment
	err := row.Scan(&frag.ID, &frag.DocumentID, &frag.PageNumber, &frag.Kind, &frag.Content,
		&frag.Reconstructed, &frag.Detection, &frag.CreatedAt, &frag.UpdatedAt,
		&frag.DocumentName, &frag.DocumentLink)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fragment: %w", err)
	}
	return &frag, nil
}

// GetFragment returns one fragment by id, nil when missing.
func (s *DocumentStore) GetFragment(ctx context.Context, id uuid.UUID) (*models.ContentFragment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+fragmentColumns+`
		FROM content_fragments f JOIN source_documents d ON d.id = f.document_id
		WHERE f.id = $1`, id)
	return scanFragment(row)
}

// FragmentsByDocuments fetches every fragment of the given documents in
// one query, ordered by document then page. The stitcher relies on this
// being a single round trip regardless of how many pages the documents
// have.
func (s *DocumentStore) FragmentsByDocuments(ctx context.Context, docIDs []uuid.UUID) ([]*models.ContentFragment, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+fragmentColumns+`
		FROM content_fragments f JOIN source_documents d ON d.id = f.document_id
		WHERE f.document_id = ANY($1)
		ORDER BY f.document_id, f.page_number, f.created_at`, docIDs)
	if err != nil {
		return nil, fmt.Errorf("fragments by documents: %w", err)
	}
	return collectFragments(rows)
}

// TableFragments returns the table pages of one document in page order.
func (s *DocumentStore) TableFragments(ctx context.Context, docID uuid.UUID) ([]*models.ContentFragment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+fragmentColumns+`
		FROM content_fragments f JOIN source_documents d ON d.id = f.document_id
		WHERE f.document_id = $1 AND f.content_kind = $2
		ORDER BY f.page_number`, docID, models.KindTable)
	if err != nil {
		return nil, fmt.Errorf("table fragments: %w", err)
	}
	return collectFragments(rows)
}

// SearchByDocumentName returns fragments whose owning document's name
// contains the given text, case-insensitively. Used as the structured
// fallback when vector search misses a requested document.
func (s *DocumentStore) SearchByDocumentName(ctx context.Context, namePart string, limit int) ([]*models.ContentFragment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+fragmentColumns+`
		FROM content_fragments f JOIN source_documents d ON d.id = f.document_id
		WHERE d.display_name ILIKE '%' || $1 || '%'
		ORDER BY f.page_number
		LIMIT $2`, namePart, limit)
	if err != nil {
		return nil, fmt.Errorf("search by document name: %w", err)
	}
	return collectFragments(rows)
}

func collectFragments(rows pgx.Rows) ([]*models.ContentFragment, error) {
	defer rows.Close()
	var frags []*models.ContentFragment
	for rows.Next() {
		frag, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		frags = append(frags, frag)
	}
	return frags, rows.Err()
}

// UpdateContent replaces a fragment's reconstructed content and its
// embedding in one transaction. Content and vector never diverge; any
// pipeline that rewrites a fragment must come through here.
func (s *DocumentStore) UpdateContent(ctx context.Context, id uuid.UUID, reconstructed string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE content_fragments
		SET reconstructed = $2, embedding = $3, updated_at = $4
		WHERE id = $1`, id, reconstructed, vecOrNil(embedding), time.Now())
	if err != nil {
		return fmt.Errorf("update fragment content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fragment %s not found", id)
	}
	return nil
}
