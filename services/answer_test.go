package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regional-stats-chatbot/internal/ai"
	"regional-stats-chatbot/internal/vector"
	"regional-stats-chatbot/models"
)

type fakeGen struct {
	text    string
	err     error
	prompts []string
}

func (g *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.text, nil
}

func (g *fakeGen) GenerateStream(ctx context.Context, prompt string, emit func(string) error) error {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return g.err
	}
	return emit(g.text)
}

func newTestAnswerService(index *fakeIndex, gen *fakeGen) *AnswerService {
	retrieval := newTestEngine(index, &fakeFragSearcher{}, &fakeNewsLister{})
	stitcher := NewStitcher(&fakeSiblings{})
	reranker := newTestReranker(nil)
	return NewAnswerService(retrieval, stitcher, reranker, gen)
}

func TestRetrieveAndAnswerEndToEnd(t *testing.T) {
	index := &fakeIndex{newsHits: []vector.NewsHit{
		{Item: newsFor(42, 2025), Distance: 0.1},
	}}
	gen := &fakeGen{text: "Inflasi tercatat 2,5 persen."}
	svc := newTestAnswerService(index, gen)

	answer, err := svc.RetrieveAndAnswer(context.Background(), AnswerRequest{Prompt: "berapa inflasi?"})
	require.NoError(t, err)

	assert.Equal(t, "Inflasi tercatat 2,5 persen.", answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, models.SourceRef{Kind: models.EntityNews, ID: "42"}, answer.Sources[0])

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "berapa inflasi?")
	assert.Contains(t, gen.prompts[0], "Rilis", "retrieved context reaches the prompt")
}

func TestRetrieveAndAnswerExtractsYearsFromPrompt(t *testing.T) {
	index := &fakeIndex{newsHits: []vector.NewsHit{
		{Item: newsFor(1, 2023), Distance: 0.1},
		{Item: newsFor(2, 2019), Distance: 0.2},
	}}
	gen := &fakeGen{text: "jawaban"}
	svc := newTestAnswerService(index, gen)

	answer, err := svc.RetrieveAndAnswer(context.Background(), AnswerRequest{Prompt: "data IPM tahun 2023"})
	require.NoError(t, err)

	require.Len(t, answer.Sources, 1, "news outside the asked year is dropped")
	assert.Equal(t, "1", answer.Sources[0].ID)
}

func TestRetrieveAndAnswerDegradedFallback(t *testing.T) {
	index := &fakeIndex{newsHits: []vector.NewsHit{
		{Item: newsFor(1, 2025), Distance: 0.1},
	}}
	gen := &fakeGen{err: ai.ErrServiceDegraded}
	svc := newTestAnswerService(index, gen)

	answer, err := svc.RetrieveAndAnswer(context.Background(), AnswerRequest{Prompt: "halo"})
	require.NoError(t, err, "degradation is not an error to the caller")
	assert.Equal(t, degradedMessage, answer.Text)
	assert.Len(t, answer.Sources, 1, "sources survive the fallback")
}

func TestRetrieveAndAnswerBlockedFallback(t *testing.T) {
	gen := &fakeGen{err: ai.ErrContentBlocked}
	svc := newTestAnswerService(&fakeIndex{}, gen)

	answer, err := svc.RetrieveAndAnswer(context.Background(), AnswerRequest{Prompt: "pertanyaan"})
	require.NoError(t, err)
	assert.Equal(t, blockedMessage, answer.Text)
}

func TestRetrieveAndAnswerPropagatesOtherErrors(t *testing.T) {
	gen := &fakeGen{err: errors.New("boom")}
	svc := newTestAnswerService(&fakeIndex{}, gen)

	_, err := svc.RetrieveAndAnswer(context.Background(), AnswerRequest{Prompt: "pertanyaan"})
	assert.Error(t, err)
}

func TestRetrieveAndStream(t *testing.T) {
	index := &fakeIndex{newsHits: []vector.NewsHit{
		{Item: newsFor(9, 2025), Distance: 0.1},
	}}
	gen := &fakeGen{text: "potongan jawaban"}
	svc := newTestAnswerService(index, gen)

	var got string
	sources, err := svc.RetrieveAndStream(context.Background(), AnswerRequest{Prompt: "tanya"}, func(chunk string) error {
		got += chunk
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "potongan jawaban", got)
	require.Len(t, sources, 1)
	assert.Equal(t, "9", sources[0].ID)
}
