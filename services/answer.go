package services

import (
	"context"
	"errors"
	"fmt"

	"regional-stats-chatbot/internal/ai"
	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/models"
)

// Polite fallbacks surfaced to the user instead of raw provider errors.
const (
	degradedMessage = "Maaf, layanan AI sedang sibuk atau mengalami gangguan. Silakan coba lagi dalam beberapa saat."
	blockedMessage  = "Maaf, pertanyaan ini tidak dapat saya proses. Silakan ajukan pertanyaan lain seputar data statistik."
)

// AnswerGenerator is the generation surface the pipeline needs.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, emit func(string) error) error
}

// AnswerRequest is one question with its session context.
type AnswerRequest struct {
	Prompt  string
	History []Exchange

	// Years pins the requested years; nil means extract them from the
	// prompt. An explicit empty slice suppresses year handling.
	Years []int

	// TargetDocument switches retrieval to locked mode.
	TargetDocument string
}

// Answer is the generated text plus the ordered sources that backed it.
type Answer struct {
	Text    string             `json:"text"`
	Sources []models.SourceRef `json:"sources"`
}

// AnswerService runs the full question pipeline: retrieve, stitch,
// rerank, assemble context and generate.
type AnswerService struct {
	retrieval *RetrievalEngine
	stitcher  *Stitcher
	reranker  *Reranker
	gen       AnswerGenerator
}

func NewAnswerService(retrieval *RetrievalEngine, stitcher *Stitcher, reranker *Reranker, gen AnswerGenerator) *AnswerService {
	return &AnswerService{retrieval: retrieval, stitcher: stitcher, reranker: reranker, gen: gen}
}

// prepare runs everything up to generation and returns the final
// prompt together with the ordered source refs.
func (s *AnswerService) prepare(ctx context.Context, req AnswerRequest) (string, []models.SourceRef, error) {
	years := req.Years
	if years == nil {
		years = ExtractYears(req.Prompt)
	}

	results, err := s.retrieval.Retrieve(ctx, Query{
		Text:           req.Prompt,
		Years:          years,
		TargetDocument: req.TargetDocument,
	})
	if err != nil {
		return "", nil, fmt.Errorf("retrieve: %w", err)
	}

	results, err = s.stitcher.Stitch(ctx, results)
	if err != nil {
		return "", nil, fmt.Errorf("stitch: %w", err)
	}

	results, err = s.reranker.Rerank(ctx, results, years)
	if err != nil {
		return "", nil, fmt.Errorf("rerank: %w", err)
	}

	sources := make([]models.SourceRef, 0, len(results))
	for _, r := range results {
		sources = append(sources, r.Ref())
	}

	prompt := BuildPrompt(
		BuildContext(results, years),
		req.Prompt,
		FormatHistory(req.History),
	)
	return prompt, sources, nil
}

// RetrieveAndAnswer answers the question in one shot. Provider
// degradation and safety blocks come back as polite user-facing text,
// not errors; the caller still gets the sources that were assembled.
func (s *AnswerService) RetrieveAndAnswer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	prompt, sources, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		if fallback := fallbackMessage(err); fallback != "" {
			logger.Warn("generation fell back to canned answer", "error", err)
			return &Answer{Text: fallback, Sources: sources}, nil
		}
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Answer{Text: text, Sources: sources}, nil
}

// RetrieveAndStream streams the answer chunk by chunk through emit and
// returns the sources once the stream completes. Failures before the
// first chunk degrade to a single canned chunk.
func (s *AnswerService) RetrieveAndStream(ctx context.Context, req AnswerRequest, emit func(string) error) ([]models.SourceRef, error) {
	prompt, sources, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.gen.GenerateStream(ctx, prompt, emit); err != nil {
		if fallback := fallbackMessage(err); fallback != "" {
			logger.Warn("stream fell back to canned answer", "error", err)
			if emitErr := emit(fallback); emitErr != nil {
				return nil, emitErr
			}
			return sources, nil
		}
		return nil, fmt.Errorf("stream answer: %w", err)
	}
	return sources, nil
}

func fallbackMessage(err error) string {
	switch {
	case errors.Is(err, ai.ErrServiceDegraded), errors.Is(err, ai.ErrAllCredentialsExhausted):
		return degradedMessage
	case errors.Is(err, ai.ErrContentBlocked):
		return blockedMessage
	}
	return ""
}
