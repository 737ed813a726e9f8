package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/internal/vector"
	"regional-stats-chatbot/models"
)

// neutralDistance is assigned to structured-fallback results that were
// never vector-scored, keeping them competitive but not dominant.
const neutralDistance = 0.5

// defaultResultCap bounds a merged result set when the caller does not
// specify one.
const defaultResultCap = 15

// Embedder abstracts the embedding provider for retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FragmentSearcher is the structured (non-vector) fragment lookup used
// as locked-mode fallback.
type FragmentSearcher interface {
	SearchByDocumentName(ctx context.Context, namePart string, limit int) ([]*models.ContentFragment, error)
}

// NewsLister is the structured per-year news lookup used as open-mode
// fallback.
type NewsLister interface {
	ListByYear(ctx context.Context, year, limit int) ([]*models.NewsItem, error)
}

// Retrieved is one scored result from either corpus. Exactly one of
// News and Fragment is set.
type Retrieved struct {
	News     *models.NewsItem
	Fragment *models.ContentFragment
	Distance float64
}

// Ref returns the stable typed reference used for source attribution
// and feedback.
func (r Retrieved) Ref() models.SourceRef {
	if r.News != nil {
		return models.SourceRef{Kind: models.EntityNews, ID: strconv.FormatInt(r.News.ID, 10)}
	}
	return models.SourceRef{Kind: models.EntityFragment, ID: r.Fragment.ID.String()}
}

// Query is one retrieval request.
type Query struct {
	Text           string
	Years          []int
	TargetDocument string
	Limit          int
}

// RetrievalEngine fuses vector search over the two corpora with
// structured fallbacks that keep demonstrably present data reachable
// when embeddings miss.
type RetrievalEngine struct {
	embedder     Embedder
	index        vector.Index
	fragments    FragmentSearcher
	news         NewsLister
	newsLimit    int
	fragLimit    int
	lockedFactor int
}

func NewRetrievalEngine(embedder Embedder, index vector.Index, fragments FragmentSearcher, news NewsLister, newsLimit, fragLimit, lockedFactor int) *RetrievalEngine {
	return &RetrievalEngine{
		embedder:     embedder,
		index:        index,
		fragments:    fragments,
		news:         news,
		newsLimit:    newsLimit,
		fragLimit:    fragLimit,
		lockedFactor: lockedFactor,
	}
}

// Retrieve expands and embeds the query once, then searches in locked
// mode (explicit target document) or open mode (both corpora).
// Results come back sorted ascending by distance, truncated to the cap.
func (e *RetrievalEngine) Retrieve(ctx context.Context, q Query) ([]Retrieved, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultResultCap
	}

	expanded := ExpandQuery(q.Text, q.Years)
	if expanded != q.Text {
		logger.Debug("query expanded", "original", q.Text, "expanded", expanded)
	}

	embedding, err := e.embedder.Embed(ctx, expanded)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var results []Retrieved
	if q.TargetDocument != "" {
		results, err = e.retrieveLocked(ctx, embedding, q.TargetDocument, limit)
	} else {
		results, err = e.retrieveOpen(ctx, embedding, q.Years)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// retrieveLocked searches only the fragment corpus, over-fetching and
// then keeping fragments of the requested document. Locked mode must
// never come back empty because of an embedding miss on a document
// that exists, hence the structured name fallback.
func (e *RetrievalEngine) retrieveLocked(ctx context.Context, embedding []float32, target string, limit int) ([]Retrieved, error) {
	hits, err := e.index.QueryFragments(ctx, embedding, limit*e.lockedFactor)
	if err != nil {
		return nil, fmt.Errorf("locked fragment search: %w", err)
	}

	needle := strings.ToLower(target)
	var results []Retrieved
	for _, hit := range hits {
		if strings.Contains(strings.ToLower(hit.Fragment.DocumentName), needle) {
			results = append(results, Retrieved{Fragment: hit.Fragment, Distance: hit.Distance})
		}
	}
	if len(results) > 0 {
		return results, nil
	}

	logger.Info("locked retrieval fell back to name lookup", "target", target)
	frags, err := e.fragments.SearchByDocumentName(ctx, target, limit)
	if err != nil {
		return nil, fmt.Errorf("locked name fallback: %w", err)
	}
	for _, frag := range frags {
		results = append(results, Retrieved{Fragment: frag, Distance: neutralDistance})
	}
	return results, nil
}

// retrieveOpen searches news and fragments independently, drops news
// outside the requested years, and backfills any requested year that
// vector search left empty.
func (e *RetrievalEngine) retrieveOpen(ctx context.Context, embedding []float32, years []int) ([]Retrieved, error) {
	newsHits, err := e.index.QueryNews(ctx, embedding, e.newsLimit)
	if err != nil {
		return nil, fmt.Errorf("news search: %w", err)
	}
	fragHits, err := e.index.QueryFragments(ctx, embedding, e.fragLimit)
	if err != nil {
		return nil, fmt.Errorf("fragment search: %w", err)
	}

	wantYear := make(map[int]bool, len(years))
	for _, y := range years {
		wantYear[y] = false
	}

	var results []Retrieved
	for _, hit := range newsHits {
		year := hit.Item.ReleaseDate.Year()
		if len(years) > 0 {
			if _, ok := wantYear[year]; !ok {
				continue
			}
			wantYear[year] = true
		}
		results = append(results, Retrieved{News: hit.Item, Distance: hit.Distance})
	}
	for _, hit := range fragHits {
		results = append(results, Retrieved{Fragment: hit.Fragment, Distance: hit.Distance})
	}

	// Requested years the vector search left unrepresented get a
	// structured lookup so a real release is never invisible just
	// because it embeds far from the query.
	seen := make(map[int64]struct{}, len(results))
	for _, r := range results {
		if r.News != nil {
			seen[r.News.ID] = struct{}{}
		}
	}
	for _, year := range years {
		if wantYear[year] {
			continue
		}
		items, err := e.news.ListByYear(ctx, year, e.newsLimit)
		if err != nil {
			return nil, fmt.Errorf("year fallback %d: %w", year, err)
		}
		for _, item := range items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			results = append(results, Retrieved{News: item, Distance: neutralDistance})
		}
	}
	return results, nil
}
