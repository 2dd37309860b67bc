package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
)

type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	return s.vector, s.err
}

func (s *stubEmbedder) GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error) {
	return s.GenerateEmbedding(ctx, query)
}

func (s *stubEmbedder) EmbedChunk(ctx context.Context, chunk *models.Chunk) error { return s.err }

func (s *stubEmbedder) EmbedChunks(ctx context.Context, chunks []*models.Chunk) (int, error) {
	return 0, s.err
}

func (s *stubEmbedder) ModelName() string { return "stub-embed" }
func (s *stubEmbedder) Dimension() int    { return len(s.vector) }

type stubIndex struct {
	mu        sync.Mutex
	entries   map[string][]models.ScoredChunk
	errs      map[string]error
	transient map[string]int // per-tag failures before the query succeeds
	queried   []string
}

func (s *stubIndex) Upsert(ctx context.Context, chunks []*models.Chunk) error { return nil }

func (s *stubIndex) Query(ctx context.Context, vector []float32, tag string, k int, threshold float32) ([]models.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queried = append(s.queried, tag)

	if s.transient[tag] > 0 {
		s.transient[tag]--
		return nil, errors.New("transient store error")
	}
	if err := s.errs[tag]; err != nil {
		return nil, err
	}
	return s.entries[tag], nil
}

func (s *stubIndex) DeleteCorpus(ctx context.Context, tag string) error { return nil }

func newTestAggregator(embedder *stubEmbedder, index *stubIndex) *Aggregator {
	cfg := &common.RetrievalConfig{TopK: 5, ScoreThreshold: 0.75, QueryTimeout: "5s"}
	return NewAggregator(embedder, index, cfg, common.GetLogger())
}

func TestRetrieve_OneResultPerCorpus(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	index := &stubIndex{
		entries: map[string][]models.ScoredChunk{
			"course": {{Text: "lecture notes", Score: 0.9}},
			"shared": {{Text: "handbook", Score: 0.8}},
		},
	}
	agg := newTestAggregator(embedder, index)

	results, err := agg.Retrieve(context.Background(), "what is a monad?", []string{"course", "shared"}, 5, 0.75)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "lecture notes", results["course"].Entries[0].Text)
	assert.Equal(t, "handbook", results["shared"].Entries[0].Text)
	assert.False(t, results["course"].Unavailable)
	assert.False(t, results["shared"].Unavailable)
}

func TestRetrieve_EmbedsQuestionOnce(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	index := &stubIndex{entries: map[string][]models.ScoredChunk{}}
	agg := newTestAggregator(embedder, index)

	_, err := agg.Retrieve(context.Background(), "question", []string{"a", "b", "c"}, 5, 0.75)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)
}

func TestRetrieve_FailedCorpusMarkedUnavailable(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	index := &stubIndex{
		entries: map[string][]models.ScoredChunk{
			"healthy": {{Text: "still here", Score: 0.9}},
		},
		errs: map[string]error{
			"broken": errors.New("store offline"),
		},
	}
	agg := newTestAggregator(embedder, index)

	results, err := agg.Retrieve(context.Background(), "question", []string{"healthy", "broken"}, 5, 0.75)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.False(t, results["healthy"].Unavailable)
	assert.Len(t, results["healthy"].Entries, 1)

	assert.True(t, results["broken"].Unavailable)
	assert.Contains(t, results["broken"].Cause, "store offline")
	assert.Empty(t, results["broken"].Entries)
}

func TestRetrieve_TransientQueryFailureRetriedOnce(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	index := &stubIndex{
		entries:   map[string][]models.ScoredChunk{"course": {{Text: "lecture notes", Score: 0.9}}},
		transient: map[string]int{"course": 1},
	}
	agg := newTestAggregator(embedder, index)

	results, err := agg.Retrieve(context.Background(), "question", []string{"course"}, 5, 0.75)
	require.NoError(t, err)

	assert.False(t, results["course"].Unavailable)
	require.Len(t, results["course"].Entries, 1)
	assert.Len(t, index.queried, 2, "failed query retried exactly once")
}

func TestRetrieve_EmptyEntriesDistinctFromUnavailable(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	index := &stubIndex{entries: map[string][]models.ScoredChunk{}}
	agg := newTestAggregator(embedder, index)

	results, err := agg.Retrieve(context.Background(), "question", []string{"empty"}, 5, 0.75)
	require.NoError(t, err)

	result := results["empty"]
	assert.False(t, result.Unavailable)
	assert.Empty(t, result.Entries)
}

func TestRetrieve_EmbeddingFailureMarksAllUnavailable(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("gateway down")}
	index := &stubIndex{}
	agg := newTestAggregator(embedder, index)

	results, err := agg.Retrieve(context.Background(), "question", []string{"course", "textbook"}, 5, 0.75)
	require.NoError(t, err)

	require.Len(t, results, 2)
	for _, tag := range []string{"course", "textbook"} {
		assert.True(t, results[tag].Unavailable, "corpus %s", tag)
		assert.Contains(t, results[tag].Cause, "gateway down")
		assert.Empty(t, results[tag].Entries)
	}
	assert.Empty(t, index.queried, "no corpus should be queried without a vector")
}

func TestRetrieve_EmptyQuestionRejected(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	agg := newTestAggregator(embedder, &stubIndex{})

	_, err := agg.Retrieve(context.Background(), "   ", []string{"course"}, 5, 0.75)
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))
	assert.Equal(t, 0, embedder.calls)
}

func TestRetrieve_DedupesTags(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	index := &stubIndex{entries: map[string][]models.ScoredChunk{}}
	agg := newTestAggregator(embedder, index)

	results, err := agg.Retrieve(context.Background(), "question", []string{"course", "course", "", " shared "}, 5, 0.75)
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.Contains(t, results, "course")
	assert.Contains(t, results, "shared")
	assert.Len(t, index.queried, 2)
}

func TestRetrieve_NoTagsYieldsEmptyMap(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	agg := newTestAggregator(embedder, &stubIndex{})

	results, err := agg.Retrieve(context.Background(), "question", nil, 5, 0.75)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, embedder.calls, "no corpora means no embedding call")
}
