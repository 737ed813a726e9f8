package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"regional-stats-chatbot/internal/logger"
)

// ErrServiceDegraded is returned while the circuit breaker is open.
// Callers decide whether to surface a polite message or fail the job.
var ErrServiceDegraded = errors.New("generation service degraded")

const generateRetryAttempts = 3

// GeminiClient generates answers through the credential pool, guarded
// by a circuit breaker and a process-wide rate limiter.
type GeminiClient struct {
	pool        *KeyPool
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	model       string

	// generateFunc and streamFunc are swapped in tests.
	generateFunc func(ctx context.Context, apiKey, model, prompt string) (string, error)
	streamFunc   func(ctx context.Context, apiKey, model, prompt string, emit func(string) error) error
}

func NewGeminiClient(pool *KeyPool, model string, rpm, burst int) *GeminiClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &GeminiClient{
		pool:         pool,
		breaker:      breaker,
		rateLimiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		model:        model,
		generateFunc: googleGenerate,
		streamFunc:   googleGenerateStream,
	}
}

func googleGenerate(ctx context.Context, apiKey, model, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return "", err
	}
	defer client.Close()

	gm := client.GenerativeModel(model)
	gm.SetTemperature(0.7)
	gm.SetMaxOutputTokens(2048)

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func googleGenerateStream(ctx context.Context, apiKey, model, prompt string, emit func(string) error) error {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return err
	}
	defer client.Close()

	gm := client.GenerativeModel(model)
	gm.SetTemperature(0.7)
	gm.SetMaxOutputTokens(2048)

	iter := gm.GenerateContentStream(ctx, genai.Text(prompt))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk := responseText(resp); chunk != "" {
			if err := emit(chunk); err != nil {
				return err
			}
		}
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	var out string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out += string(text)
			}
		}
	}
	return out
}

// Generate produces a complete answer for the prompt. Quota errors
// rotate the pool; safety blocks are terminal and never rotate, every
// credential would refuse the same content.
func (gc *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	var answer string
	err := gc.withRotation(ctx, "gemini.generate_content", retryAlways, func(ctx context.Context, lease Lease) error {
		text, err := gc.generateFunc(ctx, lease.Key, gc.model, prompt)
		if err != nil {
			return err
		}
		answer = text
		return nil
	})
	return answer, err
}

// GenerateStream produces the answer incrementally, calling emit for
// each chunk. Rotation and retry only apply before the first chunk is
// emitted; retrying after that would duplicate output the caller has
// already seen, so a failure mid-stream surfaces directly.
func (gc *GeminiClient) GenerateStream(ctx context.Context, prompt string, emit func(string) error) error {
	var emitted bool
	return gc.withRotation(ctx, "gemini.generate_stream",
		func() bool { return !emitted },
		func(ctx context.Context, lease Lease) error {
			return gc.streamFunc(ctx, lease.Key, gc.model, prompt, func(chunk string) error {
				emitted = true
				return emit(chunk)
			})
		})
}

func retryAlways() bool { return true }

// callWithBackoff retries transient failures on the same credential
// before the error escalates. The breaker sees the whole sequence as
// one request.
func (gc *GeminiClient) callWithBackoff(ctx context.Context, lease Lease, canRetry func() bool, call func(context.Context, Lease) error) error {
	var lastErr error
	for attempt := 0; attempt < generateRetryAttempts; attempt++ {
		err := call(ctx, lease)
		if err == nil {
			return nil
		}
		lastErr = err
		if Classify(err) != KindTransient || !canRetry() {
			return err
		}

		delay := time.Duration(1<<attempt) * time.Second
		logger.Warn("transient generation error, backing off",
			"alias", lease.Alias, "attempt", attempt+1, "delay", delay.String(), "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (gc *GeminiClient) withRotation(ctx context.Context, spanName string, canRetry func() bool, call func(context.Context, Lease) error) error {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", gc.model))

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return err
	}

	for rotation := 0; rotation < gc.pool.Len(); rotation++ {
		lease, err := gc.pool.Current(ctx)
		if err != nil {
			span.SetAttributes(attribute.Bool("gemini.pool_exhausted", true))
			return err
		}
		span.SetAttributes(attribute.String("gemini.credential", lease.Alias))

		_, err = gc.breaker.Execute(func() (interface{}, error) {
			return nil, gc.callWithBackoff(ctx, lease, canRetry, call)
		})
		if err == nil {
			gc.pool.RecordUsage(ctx, lease, false)
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return ErrServiceDegraded
		}

		gc.pool.RecordUsage(ctx, lease, true)
		switch Classify(err) {
		case KindQuota:
			gc.pool.MarkExhausted(ctx, lease)
			if !canRetry() {
				return fmt.Errorf("generation failed: %w", err)
			}
			continue
		case KindSafety:
			span.SetAttributes(attribute.Bool("gemini.blocked", true))
			return fmt.Errorf("%w: %v", ErrContentBlocked, err)
		case KindTransient:
			span.SetAttributes(attribute.Bool("gemini.transient_error", true))
			return fmt.Errorf("generation failed: %w", err)
		default:
			return fmt.Errorf("generation failed: %w", err)
		}
	}
	return ErrAllCredentialsExhausted
}
