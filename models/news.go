package models

import "time"

// NewsItem is a short official statistics news release.
type NewsItem struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	ReleaseDate time.Time `json:"release_date"`
	Summary     string    `json:"summary"`
	Link        string    `json:"link,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmbeddingText joins the fields that feed the news embedding. Any
// change to these fields must regenerate the stored vector.
func (n *NewsItem) EmbeddingText() string {
	text := "Judul: " + n.Title + "\nRingkasan: " + n.Summary
	if len(n.Tags) > 0 {
		text += "\nTags: "
		for i, tag := range n.Tags {
			if i > 0 {
				text += ", "
			}
			text += tag
		}
	}
	return text
}
