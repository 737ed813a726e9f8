package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, store *fakeCredStore, generate func(ctx context.Context, apiKey, model, prompt string) (string, error)) *GeminiClient {
	t.Helper()
	pool := newTestPool(t, store)
	gc := NewGeminiClient(pool, "test-model", 600, 10)
	gc.generateFunc = generate
	return gc
}

func TestGenerateRotatesOnQuota(t *testing.T) {
	store := &fakeCredStore{}
	gc := newTestClient(t, store, func(ctx context.Context, apiKey, model, prompt string) (string, error) {
		if apiKey == "key-a" {
			return "", quotaErr()
		}
		return "jawaban dari " + apiKey, nil
	})

	answer, err := gc.Generate(context.Background(), "berapa inflasi?")
	require.NoError(t, err)
	assert.Equal(t, "jawaban dari key-b", answer)
	assert.Equal(t, []string{"alpha"}, store.marked)
}

func TestGenerateTerminalAfterFullRotation(t *testing.T) {
	gc := newTestClient(t, &fakeCredStore{}, func(ctx context.Context, apiKey, model, prompt string) (string, error) {
		return "", quotaErr()
	})

	_, err := gc.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrAllCredentialsExhausted)
}

func TestGenerateSafetyBlockIsTerminal(t *testing.T) {
	store := &fakeCredStore{}
	gc := newTestClient(t, store, func(ctx context.Context, apiKey, model, prompt string) (string, error) {
		return "", &genai.BlockedError{}
	})

	_, err := gc.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrContentBlocked)
	assert.Empty(t, store.marked)
}

func TestGenerateCircuitBreakerOpens(t *testing.T) {
	calls := 0
	gc := newTestClient(t, &fakeCredStore{}, func(ctx context.Context, apiKey, model, prompt string) (string, error) {
		calls++
		return "", errors.New("backend exploded")
	})
	ctx := context.Background()

	// Permanent failures do not rotate; three of them trip the breaker.
	for i := 0; i < 3; i++ {
		_, err := gc.Generate(ctx, "prompt")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrServiceDegraded)
	}

	_, err := gc.Generate(ctx, "prompt")
	assert.ErrorIs(t, err, ErrServiceDegraded)
	assert.Equal(t, 3, calls, "no call reaches the provider once the breaker is open")
}

func TestGenerateStreamEmitsChunks(t *testing.T) {
	gc := newTestClient(t, &fakeCredStore{}, nil)
	gc.streamFunc = func(ctx context.Context, apiKey, model, prompt string, emit func(string) error) error {
		for _, chunk := range []string{"Inflasi ", "sebesar ", "2,5 persen."} {
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	var b strings.Builder
	err := gc.GenerateStream(context.Background(), "prompt", func(chunk string) error {
		b.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Inflasi sebesar 2,5 persen.", b.String())
}
