package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"regional-stats-chatbot/internal/logger"
)

const (
	embedCacheTTL      = time.Hour
	embedRetryAttempts = 3
)

// Embedder generates embedding vectors through the credential pool,
// with a Redis cache in front so repeated texts (idempotent re-ingests,
// common queries) cost no quota.
type Embedder struct {
	pool  *KeyPool
	cache *redis.Client
	model string

	// embedFunc is swapped in tests.
	embedFunc func(ctx context.Context, apiKey, model, text string) ([]float32, error)
}

func NewEmbedder(pool *KeyPool, cache *redis.Client, model string) *Embedder {
	return &Embedder{
		pool:      pool,
		cache:     cache,
		model:     model,
		embedFunc: googleEmbed,
	}
}

func googleEmbed(ctx context.Context, apiKey, model, text string) ([]float32, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding.Values, nil
}

func embedCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// Embed returns the embedding for text. Quota errors rotate the pool
// and retry on the next credential; transient provider errors back off
// on the same credential. Returns ErrAllCredentialsExhausted once no
// credential can serve.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCacheKey(e.model, text)
	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, key).Bytes(); err == nil {
			var vec []float32
			if json.Unmarshal(cached, &vec) == nil && len(vec) > 0 {
				return vec, nil
			}
		}
	}

	for rotation := 0; rotation < e.pool.Len(); rotation++ {
		lease, err := e.pool.Current(ctx)
		if err != nil {
			return nil, err
		}

		vec, err := e.embedWithBackoff(ctx, lease, text)
		if err == nil {
			e.pool.RecordUsage(ctx, lease, false)
			e.cacheSet(ctx, key, vec)
			return vec, nil
		}

		e.pool.RecordUsage(ctx, lease, true)
		switch Classify(err) {
		case KindQuota:
			e.pool.MarkExhausted(ctx, lease)
			continue
		case KindSafety:
			return nil, fmt.Errorf("%w: %v", ErrContentBlocked, err)
		default:
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
	}
	return nil, ErrAllCredentialsExhausted
}

// embedWithBackoff retries transient failures on the same credential
// with exponential backoff before giving up on it.
func (e *Embedder) embedWithBackoff(ctx context.Context, lease Lease, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < embedRetryAttempts; attempt++ {
		vec, err := e.embedFunc(ctx, lease.Key, e.model, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if Classify(err) != KindTransient {
			return nil, err
		}

		delay := time.Duration(1<<attempt) * time.Second
		logger.Warn("transient embedding error, backing off",
			"alias", lease.Alias, "attempt", attempt+1, "delay", delay.String(), "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (e *Embedder) cacheSet(ctx context.Context, key string, vec []float32) {
	if e.cache == nil {
		return
	}
	encoded, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, encoded, embedCacheTTL).Err(); err != nil {
		logger.Debug("embedding cache write failed", "error", err)
	}
}
