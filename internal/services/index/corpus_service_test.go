package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
)

// memoryCorpus is an in-memory CorpusStorage for index tests.
type memoryCorpus struct {
	chunks  map[string]*models.Chunk
	nextSeq map[string]uint64
	loadErr error
}

func newMemoryCorpus() *memoryCorpus {
	return &memoryCorpus{
		chunks:  make(map[string]*models.Chunk),
		nextSeq: make(map[string]uint64),
	}
}

func (m *memoryCorpus) AppendChunks(chunks []*models.Chunk) error {
	for _, chunk := range chunks {
		chunk.Seq = m.nextSeq[chunk.CorpusTag]
		m.nextSeq[chunk.CorpusTag]++
		copied := *chunk
		m.chunks[chunk.ID] = &copied
	}
	return nil
}

func (m *memoryCorpus) GetEmbeddedChunks(tag string) ([]*models.Chunk, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var result []*models.Chunk
	for _, chunk := range m.chunks {
		if chunk.CorpusTag == tag && chunk.Embedded() {
			result = append(result, chunk)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (m *memoryCorpus) GetPendingChunks(limit int) ([]*models.Chunk, error) {
	var result []*models.Chunk
	for _, chunk := range m.chunks {
		if chunk.Pending {
			result = append(result, chunk)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *memoryCorpus) SetChunkEmbedding(id string, embedding []float32, model string) error {
	chunk, ok := m.chunks[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	chunk.Embedding = embedding
	chunk.EmbeddingModel = model
	chunk.Pending = false
	return nil
}

func (m *memoryCorpus) DeleteCorpus(tag string) error {
	for id, chunk := range m.chunks {
		if chunk.CorpusTag == tag {
			delete(m.chunks, id)
		}
	}
	delete(m.nextSeq, tag)
	return nil
}

func indexChunk(id, tag, text string, embedding []float32) *models.Chunk {
	return &models.Chunk{
		ID:        id,
		Text:      text,
		Source:    "test.txt",
		CorpusTag: tag,
		Embedding: embedding,
	}
}

func TestQuery_RanksBySimilarity(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, []*models.Chunk{
		indexChunk("a", "course", "orthogonal", []float32{0, 1}),
		indexChunk("b", "course", "exact match", []float32{1, 0}),
		indexChunk("c", "course", "close match", []float32{0.9, 0.1}),
	}))

	hits, err := svc.Query(ctx, []float32{1, 0}, "course", 10, 0.5)
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, "exact match", hits[0].Text)
	assert.Equal(t, "close match", hits[1].Text)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestQuery_ThresholdExcludesLowScores(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, []*models.Chunk{
		indexChunk("a", "course", "match", []float32{1, 0}),
		indexChunk("b", "course", "orthogonal", []float32{0, 1}),
	}))

	hits, err := svc.Query(ctx, []float32{1, 0}, "course", 10, 0.99)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "match", hits[0].Text)
}

func TestQuery_TruncatesToK(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())
	ctx := context.Background()

	chunks := make([]*models.Chunk, 10)
	for i := range chunks {
		chunks[i] = indexChunk(fmt.Sprintf("chunk-%d", i), "course", fmt.Sprintf("text %d", i), []float32{1, float32(i) * 0.01})
	}
	require.NoError(t, svc.Upsert(ctx, chunks))

	hits, err := svc.Query(ctx, []float32{1, 0}, "course", 3, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestQuery_EqualScoresRankByIngestionOrder(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())
	ctx := context.Background()

	// Identical vectors, so every chunk scores the same
	require.NoError(t, svc.Upsert(ctx, []*models.Chunk{
		indexChunk("first", "course", "first in", []float32{1, 0}),
		indexChunk("second", "course", "second in", []float32{1, 0}),
		indexChunk("third", "course", "third in", []float32{1, 0}),
	}))

	for range 3 {
		hits, err := svc.Query(ctx, []float32{1, 0}, "course", 10, 0)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "first in", hits[0].Text)
		assert.Equal(t, "second in", hits[1].Text)
		assert.Equal(t, "third in", hits[2].Text)
	}
}

func TestQuery_UnknownTagYieldsEmptyResult(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())

	hits, err := svc.Query(context.Background(), []float32{1, 0}, "nope", 5, 0.5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQuery_RejectsBadInput(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())
	ctx := context.Background()

	_, err := svc.Query(ctx, nil, "course", 5, 0.5)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))

	_, err = svc.Query(ctx, []float32{1, 0}, "course", 0, 0.5)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))
}

func TestQuery_SkipsMismatchedDimensions(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, []*models.Chunk{
		indexChunk("a", "course", "old model", []float32{1, 0, 0}),
		indexChunk("b", "course", "current model", []float32{1, 0}),
	}))

	hits, err := svc.Query(ctx, []float32{1, 0}, "course", 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "current model", hits[0].Text)
}

func TestDeleteCorpus_RemovesOnlyThatTag(t *testing.T) {
	corpus := newMemoryCorpus()
	svc := NewService(corpus, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, []*models.Chunk{
		indexChunk("a", "course", "keep me not", []float32{1, 0}),
		indexChunk("b", "other", "survivor", []float32{1, 0}),
	}))

	require.NoError(t, svc.DeleteCorpus(ctx, "course"))

	hits, err := svc.Query(ctx, []float32{1, 0}, "course", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = svc.Query(ctx, []float32{1, 0}, "other", 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6, "similarity is scale-invariant")
	assert.Equal(t, float32(0), cosineSimilarity([]float32{0, 0}, []float32{1, 0}), "zero vector scores 0, not NaN")
}
