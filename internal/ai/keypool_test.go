package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regional-stats-chatbot/internal/config"
	"regional-stats-chatbot/models"
)

type fakeCredStore struct {
	persisted []*models.APICredential
	ensured   []string
	marked    []string
	cleared   []string
}

func (f *fakeCredStore) EnsureAliases(ctx context.Context, aliases []string) error {
	f.ensured = aliases
	return nil
}

func (f *fakeCredStore) List(ctx context.Context) ([]*models.APICredential, error) {
	return f.persisted, nil
}

func (f *fakeCredStore) MarkQuotaExceeded(ctx context.Context, alias string) error {
	f.marked = append(f.marked, alias)
	return nil
}

func (f *fakeCredStore) ClearQuota(ctx context.Context, alias string) error {
	f.cleared = append(f.cleared, alias)
	return nil
}

func (f *fakeCredStore) RecordUsage(ctx context.Context, alias string, failed bool) error {
	return nil
}

func threeCreds() []config.Credential {
	return []config.Credential{
		{Alias: "alpha", Key: "key-a"},
		{Alias: "beta", Key: "key-b"},
		{Alias: "gamma", Key: "key-c"},
	}
}

func newTestPool(t *testing.T, store *fakeCredStore) *KeyPool {
	t.Helper()
	pool, err := NewKeyPool(context.Background(), threeCreds(), store)
	require.NoError(t, err)
	return pool
}

func TestPoolServesCurrentUntilExhausted(t *testing.T) {
	pool := newTestPool(t, &fakeCredStore{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lease, err := pool.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alpha", lease.Alias, "a healthy credential keeps serving")
	}
}

func TestPoolRotatesOnExhaustion(t *testing.T) {
	store := &fakeCredStore{}
	pool := newTestPool(t, store)
	ctx := context.Background()

	lease, err := pool.Current(ctx)
	require.NoError(t, err)
	pool.MarkExhausted(ctx, lease)

	next, err := pool.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beta", next.Alias)
	assert.Equal(t, []string{"alpha"}, store.marked, "exhaustion is persisted")
}

func TestPoolTerminalWhenAllExhausted(t *testing.T) {
	pool := newTestPool(t, &fakeCredStore{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lease, err := pool.Current(ctx)
		require.NoError(t, err)
		pool.MarkExhausted(ctx, lease)
	}

	_, err := pool.Current(ctx)
	assert.ErrorIs(t, err, ErrAllCredentialsExhausted)
}

func TestPoolStaleFailureReportDoesNotSkipHealthyKey(t *testing.T) {
	pool := newTestPool(t, &fakeCredStore{})
	ctx := context.Background()

	first, err := pool.Current(ctx)
	require.NoError(t, err)

	// Two concurrent holders of the same lease both report failure; the
	// cursor must advance exactly once.
	pool.MarkExhausted(ctx, first)
	pool.MarkExhausted(ctx, first)

	next, err := pool.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beta", next.Alias, "beta must not be skipped by the duplicate report")
}

func TestPoolCooldownRestoresCredential(t *testing.T) {
	store := &fakeCredStore{}
	pool := newTestPool(t, store)
	ctx := context.Background()

	base := time.Date(2026, 8, 27, 8, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		lease, err := pool.Current(ctx)
		require.NoError(t, err)
		pool.MarkExhausted(ctx, lease)
	}
	_, err := pool.Current(ctx)
	require.ErrorIs(t, err, ErrAllCredentialsExhausted)

	// One minute short of the cooldown: still exhausted.
	pool.now = func() time.Time { return base.Add(models.QuotaCooldown - time.Minute) }
	_, err = pool.Current(ctx)
	assert.ErrorIs(t, err, ErrAllCredentialsExhausted)

	// Past the cooldown the key re-enters rotation and the reset is
	// persisted.
	pool.now = func() time.Time { return base.Add(models.QuotaCooldown + time.Minute) }
	lease, err := pool.Current(ctx)
	require.NoError(t, err)
	assert.Contains(t, store.cleared, lease.Alias)
}

func TestPoolHonorsPersistedExhaustion(t *testing.T) {
	recently := time.Now().Add(-time.Hour)
	store := &fakeCredStore{persisted: []*models.APICredential{
		{Alias: "alpha", Active: true, QuotaExceeded: true, QuotaExceededAt: &recently},
		{Alias: "beta", Active: true},
		{Alias: "gamma", Active: true},
	}}
	pool := newTestPool(t, store)

	lease, err := pool.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "beta", lease.Alias, "a restart must not forget persisted quota state")
}

func TestPoolSnapshotStripsKeyMaterial(t *testing.T) {
	pool := newTestPool(t, &fakeCredStore{})

	for _, cred := range pool.Snapshot() {
		assert.Empty(t, cred.Key)
	}
}
