package models

// Entity kinds used for feedback attribution and source references.
const (
	EntityNews     = "news"
	EntityFragment = "fragment"
)

// SourceRef is a stable typed reference to a retrieved entity, returned
// with every answer so later feedback can be attributed to it.
type SourceRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Key returns the map key used to join refs with stored scores.
func (r SourceRef) Key() string {
	return r.Kind + "-" + r.ID
}

// FeedbackScore accumulates user feedback per entity. The derived score
// uses Bayesian smoothing so sparse feedback stays near neutral.
type FeedbackScore struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Positive int    `json:"positive"`
	Negative int    `json:"negative"`
	Score    float64
}

// Recompute derives the smoothed score (positive+1)/(total+2); an
// entity with no feedback scores 0.5.
func (f *FeedbackScore) Recompute() {
	total := f.Positive + f.Negative
	f.Score = float64(f.Positive+1) / float64(total+2)
}
