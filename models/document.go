package models

import (
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ContentKind labels how a fragment was captured from its page.
type ContentKind string

const (
	KindTable     ContentKind = "table"
	KindText      ContentKind = "text"
	KindImageOnly ContentKind = "image-only"
)

// SourceDocument is one ingested PDF report. The content hash is the
// natural key: a byte-identical re-upload maps to the same row.
type SourceDocument struct {
	ID            uuid.UUID      `json:"id"`
	DisplayName   string         `json:"display_name"`
	Link          string         `json:"link,omitempty"`
	TotalPages    int            `json:"total_pages"`
	IngestedPages int            `json:"ingested_pages"`
	ContentHash   string         `json:"content_hash"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

var docYearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Year parses a publication year from the display name, e.g.
// "provinsi-gorontalo-dalam-angka-2025.pdf" -> 2025. Returns 0 when no
// year is present.
func (d *SourceDocument) Year() int {
	match := docYearPattern.FindString(d.DisplayName)
	if match == "" {
		return 0
	}
	year, _ := strconv.Atoi(match)
	return year
}

// DetectionInfo records why the classifier labeled a page the way it did.
type DetectionInfo struct {
	Reason    string `json:"reason"`
	ImagePath string `json:"image_path,omitempty"`
}

// ContentFragment is one addressable unit of document content: a whole
// table or image-only page, or a sliding-window slice of narrative text.
// Table and image-only fragments map 1:1 to a physical page and are
// never split; text fragments carry the page where their run started.
type ContentFragment struct {
	ID            uuid.UUID     `json:"id"`
	DocumentID    uuid.UUID     `json:"document_id"`
	PageNumber    int           `json:"page_number"`
	Kind          ContentKind   `json:"kind"`
	Content       string        `json:"content"`
	Reconstructed string        `json:"reconstructed,omitempty"`
	Detection     DetectionInfo `json:"detection"`
	Embedding     []float32     `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Denormalized from the owning document for retrieval filtering and
	// context rendering.
	DocumentName string `json:"document_name,omitempty"`
	DocumentLink string `json:"document_link,omitempty"`
}

// IsWholePage reports whether the fragment must stay page-aligned.
func (f *ContentFragment) IsWholePage() bool {
	return f.Kind == KindTable || f.Kind == KindImageOnly
}

// Body returns the text that represents this fragment downstream:
// the reconstructed version when one exists, the raw extract otherwise.
func (f *ContentFragment) Body() string {
	if f.Reconstructed != "" {
		return f.Reconstructed
	}
	return f.Content
}
