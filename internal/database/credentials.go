package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"regional-stats-chatbot/models"
)

// CredentialStore tracks per-key health and usage. The key material
// itself never touches the database; rows are joined back to the
// environment by alias.
type CredentialStore struct {
	pool *pgxpool.Pool
}

func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// EnsureAliases creates missing rows for the configured aliases so a
// freshly added env key becomes trackable without a manual step.
func (s *CredentialStore) EnsureAliases(ctx context.Context, aliases []string) error {
	for _, alias := range aliases {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO api_credentials (alias, name) VALUES ($1, $1)
			ON CONFLICT (alias) DO NOTHING`, alias)
		if err != nil {
			return fmt.Errorf("ensure credential %s: %w", alias, err)
		}
	}
	return nil
}

// List returns all credential rows in alias order, matching the pool's
// rotation order.
func (s *CredentialStore) List(ctx context.Context) ([]*models.APICredential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, alias, name, quota_exceeded, quota_exceeded_at, total_requests, failed_requests, is_active, last_used, created_at
		FROM api_credentials ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.APICredential
	for rows.Next() {
		var c models.APICredential
		err := rows.Scan(&c.ID, &c.Alias, &c.Name, &c.QuotaExceeded, &c.QuotaExceededAt,
			&c.TotalRequests, &c.FailedRequests, &c.Active, &c.LastUsed, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

// MarkQuotaExceeded flags the credential as out of quota as of now.
func (s *CredentialStore) MarkQuotaExceeded(ctx context.Context, alias string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE api_credentials SET quota_exceeded = TRUE, quota_exceeded_at = $2
		WHERE alias = $1`, alias, time.Now())
	if err != nil {
		return fmt.Errorf("mark quota exceeded: %w", err)
	}
	return nil
}

// ClearQuota resets the quota flag after the cooldown has elapsed.
func (s *CredentialStore) ClearQuota(ctx context.Context, alias string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE api_credentials SET quota_exceeded = FALSE, quota_exceeded_at = NULL
		WHERE alias = $1`, alias)
	if err != nil {
		return fmt.Errorf("clear quota flag: %w", err)
	}
	return nil
}

// RecordUsage bumps the usage counters for one request.
func (s *CredentialStore) RecordUsage(ctx context.Context, alias string, failed bool) error {
	failedInc := 0
	if failed {
		failedInc = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE api_credentials
		SET total_requests = total_requests + 1,
			failed_requests = failed_requests + $2,
			last_used = $3
		WHERE alias = $1`, alias, failedInc, time.Now())
	if err != nil {
		return fmt.Errorf("record credential usage: %w", err)
	}
	return nil
}

// SetActive enables or disables a credential for rotation.
func (s *CredentialStore) SetActive(ctx context.Context, alias string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_credentials SET is_active = $2 WHERE alias = $1`, alias, active)
	if err != nil {
		return fmt.Errorf("set credential active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %s not found", alias)
	}
	return nil
}
