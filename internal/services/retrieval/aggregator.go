package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
)

// Aggregator answers a question against multiple corpora. The question is
// embedded once, then every corpus is queried in parallel with the same
// vector. A corpus that fails is reported as unavailable inside its own
// result; it never sinks the sibling corpora or the call.
type Aggregator struct {
	embedder     interfaces.EmbeddingService
	index        interfaces.CorpusIndex
	queryTimeout time.Duration
	logger       arbor.ILogger
}

// NewAggregator creates a multi-corpus retriever.
func NewAggregator(embedder interfaces.EmbeddingService, index interfaces.CorpusIndex, config *common.RetrievalConfig, logger arbor.ILogger) *Aggregator {
	return &Aggregator{
		embedder:     embedder,
		index:        index,
		queryTimeout: common.ParseDurationOr(config.QueryTimeout, 30*time.Second),
		logger:       logger,
	}
}

// Retrieve embeds the question and queries each distinct corpus tag,
// returning one result per tag. Failures surface inside the per-corpus
// results: an embedding failure marks every requested corpus unavailable,
// an index failure marks only its own corpus.
func (a *Aggregator) Retrieve(ctx context.Context, question string, corpusTags []string, k int, threshold float32) (map[string]models.RetrievalResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question cannot be empty", interfaces.ErrInvalidInput)
	}

	tags := dedupeTags(corpusTags)
	results := make(map[string]models.RetrievalResult, len(tags))
	if len(tags) == 0 {
		return results, nil
	}

	// With no query vector there is nothing to ask any corpus: every
	// requested corpus is unavailable, but the call itself still returns
	// so the asker can answer with degraded context.
	vector, err := a.embedder.GenerateQueryEmbedding(ctx, question)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Int("corpora", len(tags)).
			Msg("Question embedding failed, marking every corpus unavailable")
		cause := fmt.Sprintf("failed to embed question: %v", err)
		for _, tag := range tags {
			results[tag] = models.RetrievalResult{CorpusTag: tag, Unavailable: true, Cause: cause}
		}
		return results, nil
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, tag := range tags {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()

			queryCtx, cancel := context.WithTimeout(ctx, a.queryTimeout)
			defer cancel()

			result := models.RetrievalResult{CorpusTag: tag}
			entries, err := a.queryWithRetry(queryCtx, vector, tag, k, threshold)
			if err != nil {
				a.logger.Warn().
					Err(err).
					Str("corpus", tag).
					Msg("Corpus query failed, marking unavailable")
				result.Unavailable = true
				result.Cause = err.Error()
			} else {
				result.Entries = entries
			}

			mu.Lock()
			results[tag] = result
			mu.Unlock()
		}(tag)
	}
	wg.Wait()

	return results, nil
}

// retryBackoff separates the two attempts of a failed corpus query.
const retryBackoff = 200 * time.Millisecond

// queryWithRetry retries a failed corpus query once after a short pause.
// Queries never mutate the index, so a second attempt is safe.
func (a *Aggregator) queryWithRetry(ctx context.Context, vector []float32, tag string, k int, threshold float32) ([]models.ScoredChunk, error) {
	entries, err := a.index.Query(ctx, vector, tag, k, threshold)
	if err == nil || ctx.Err() != nil {
		return entries, err
	}

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return nil, err
	}
	return a.index.Query(ctx, vector, tag, k, threshold)
}

// dedupeTags drops empty and repeated tags, preserving first-seen order.
func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, tag)
	}
	return result
}
