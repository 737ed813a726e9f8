package ai

import (
	"context"
	"sync"
	"time"

	"regional-stats-chatbot/internal/config"
	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/models"
)

// CredentialState persists per-key health across restarts.
type CredentialState interface {
	EnsureAliases(ctx context.Context, aliases []string) error
	List(ctx context.Context) ([]*models.APICredential, error)
	MarkQuotaExceeded(ctx context.Context, alias string) error
	ClearQuota(ctx context.Context, alias string) error
	RecordUsage(ctx context.Context, alias string, failed bool) error
}

// Lease identifies the credential a caller is about to use. Failure
// reports carry the lease back so the pool can tell whether the
// failing key is still the current one.
type Lease struct {
	Alias string
	Key   string

	index int
}

type poolEntry struct {
	cred  config.Credential
	state *models.APICredential
}

// KeyPool rotates through an ordered set of API credentials. Rotation
// only moves forward past keys known to be exhausted; a healthy
// credential keeps serving every caller.
type KeyPool struct {
	mu      sync.Mutex
	entries []poolEntry
	current int
	store   CredentialState
	now     func() time.Time
}

// NewKeyPool joins the env-configured keys with their persisted health
// rows. Keys present in the environment but not yet in the database
// get fresh rows.
func NewKeyPool(ctx context.Context, creds []config.Credential, store CredentialState) (*KeyPool, error) {
	aliases := make([]string, len(creds))
	for i, c := range creds {
		aliases[i] = c.Alias
	}
	if err := store.EnsureAliases(ctx, aliases); err != nil {
		return nil, err
	}

	persisted, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	byAlias := make(map[string]*models.APICredential, len(persisted))
	for _, c := range persisted {
		byAlias[c.Alias] = c
	}

	pool := &KeyPool{store: store, now: time.Now}
	for _, c := range creds {
		state := byAlias[c.Alias]
		if state == nil {
			state = &models.APICredential{Alias: c.Alias, Name: c.Alias, Active: true}
		}
		pool.entries = append(pool.entries, poolEntry{cred: c, state: state})
	}
	return pool, nil
}

// Len returns the pool size; callers bound their rotation retries by it.
func (p *KeyPool) Len() int {
	return len(p.entries)
}

// Current returns a lease on the first available credential at or
// after the rotation cursor. A key whose 24h cooldown has elapsed
// becomes available again in place; the cleared flag is persisted
// best-effort.
func (p *KeyPool) Current(ctx context.Context) (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for offset := 0; offset < len(p.entries); offset++ {
		i := (p.current + offset) % len(p.entries)
		entry := p.entries[i]

		wasExhausted := entry.state.QuotaExceeded
		if !entry.state.Available(now) {
			continue
		}
		if wasExhausted {
			logger.Info("credential cooldown elapsed, back in rotation", "alias", entry.cred.Alias)
			if err := p.store.ClearQuota(ctx, entry.cred.Alias); err != nil {
				logger.Warn("failed to persist quota reset", "alias", entry.cred.Alias, "error", err)
			}
		}
		p.current = i
		return Lease{Alias: entry.cred.Alias, Key: entry.cred.Key, index: i}, nil
	}
	return Lease{}, ErrAllCredentialsExhausted
}

// MarkExhausted records a quota failure for the leased credential and
// advances the cursor, but only when the cursor still points at that
// credential. Concurrent failures on the same key therefore advance
// once, and a failure report arriving after rotation never skips a
// healthy key.
func (p *KeyPool) MarkExhausted(ctx context.Context, lease Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.entries[lease.index]
	if !entry.state.QuotaExceeded {
		now := p.now()
		entry.state.QuotaExceeded = true
		entry.state.QuotaExceededAt = &now
		if err := p.store.MarkQuotaExceeded(ctx, lease.Alias); err != nil {
			logger.Warn("failed to persist quota exhaustion", "alias", lease.Alias, "error", err)
		}
		logger.Warn("credential exhausted, rotating", "alias", lease.Alias)
	}

	if p.current == lease.index {
		p.current = (p.current + 1) % len(p.entries)
	}
}

// RecordUsage bumps the persisted counters for one request,
// best-effort.
func (p *KeyPool) RecordUsage(ctx context.Context, lease Lease, failed bool) {
	if err := p.store.RecordUsage(ctx, lease.Alias, failed); err != nil {
		logger.Debug("failed to record credential usage", "alias", lease.Alias, "error", err)
	}
}

// Snapshot returns a copy of the pool's credential states for status
// reporting. Key material is not included.
func (p *KeyPool) Snapshot() []models.APICredential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.APICredential, 0, len(p.entries))
	for _, entry := range p.entries {
		c := *entry.state
		c.Key = ""
		out = append(out, c)
	}
	return out
}
