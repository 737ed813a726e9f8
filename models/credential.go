package models

import "time"

// QuotaCooldown is how long an exhausted credential stays excluded
// before it becomes eligible again; the provider resets daily quotas
// on a 24h window.
const QuotaCooldown = 24 * time.Hour

// APICredential is one provider API key in the rotation pool. The key
// value itself lives in the environment; the row tracks health and
// usage.
type APICredential struct {
	ID              int64      `json:"id"`
	Alias           string     `json:"alias"`
	Name            string     `json:"name"`
	Key             string     `json:"-"`
	QuotaExceeded   bool       `json:"quota_exceeded"`
	QuotaExceededAt *time.Time `json:"quota_exceeded_at,omitempty"`
	TotalRequests   int64      `json:"total_requests"`
	FailedRequests  int64      `json:"failed_requests"`
	Active          bool       `json:"is_active"`
	LastUsed        *time.Time `json:"last_used,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Available reports whether the credential may serve a request at the
// given instant. The quota flag self-clears lazily once the cooldown
// has elapsed; callers observing a cleared flag should persist the
// reset.
func (c *APICredential) Available(now time.Time) bool {
	if !c.Active {
		return false
	}
	if !c.QuotaExceeded {
		return true
	}
	if c.QuotaExceededAt != nil && now.Sub(*c.QuotaExceededAt) >= QuotaCooldown {
		c.QuotaExceeded = false
		c.QuotaExceededAt = nil
		return true
	}
	return false
}

// SuccessRate returns the percentage of successful requests, 100 for an
// unused credential.
func (c *APICredential) SuccessRate() float64 {
	if c.TotalRequests == 0 {
		return 100
	}
	return float64(c.TotalRequests-c.FailedRequests) / float64(c.TotalRequests) * 100
}
