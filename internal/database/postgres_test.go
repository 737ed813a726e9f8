package database

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regional-stats-chatbot/models"
)

// Runs against a real database when TEST_DATABASE_URL points at one
// with the pgvector extension available.
func TestDocumentStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, Migrate(ctx, pool))

	store := NewDocumentStore(pool)
	doc := &models.SourceDocument{
		DisplayName: "integration-test.pdf",
		TotalPages:  3,
		ContentHash: uuid.NewString(),
		Metadata:    map[string]any{"source_path": "/tmp/integration-test.pdf"},
	}
	require.NoError(t, store.Create(ctx, doc))
	defer store.Delete(ctx, doc.ID)

	found, err := store.GetByHash(ctx, doc.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, doc.ID, found.ID)

	frag := &models.ContentFragment{
		DocumentID: doc.ID,
		PageNumber: 1,
		Kind:       models.KindTable,
		Content:    "Tabel 1. Jumlah Penduduk",
		Detection:  models.DetectionInfo{Reason: "table_structure"},
		Embedding:  make([]float32, 768),
	}
	require.NoError(t, store.CommitPage(ctx, doc.ID, 1, []*models.ContentFragment{frag}))

	found, err = store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.IngestedPages, "commit advances the watermark")

	tables, err := store.TableFragments(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "integration-test.pdf", tables[0].DocumentName)

	require.NoError(t, store.UpdateContent(ctx, frag.ID, "| Tahun | Jumlah |", make([]float32, 768)))
	updated, err := store.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, "| Tahun | Jumlah |", updated.Reconstructed)
	assert.Equal(t, "| Tahun | Jumlah |", updated.Body(), "reconstructed content wins over raw")
}
