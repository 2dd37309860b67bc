package embeddings

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
	"github.com/lectern-ai/lectern/internal/services/llm"
)

// memoryCorpus is a minimal in-memory CorpusStorage for coordinator tests.
type memoryCorpus struct {
	mu     sync.Mutex
	chunks map[string]*models.Chunk
}

func newMemoryCorpus() *memoryCorpus {
	return &memoryCorpus{chunks: make(map[string]*models.Chunk)}
}

func (m *memoryCorpus) AppendChunks(chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		copied := *chunk
		m.chunks[chunk.ID] = &copied
	}
	return nil
}

func (m *memoryCorpus) GetEmbeddedChunks(tag string) ([]*models.Chunk, error) { return nil, nil }

func (m *memoryCorpus) GetPendingChunks(limit int) ([]*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Chunk
	for _, chunk := range m.chunks {
		if chunk.Pending {
			copied := *chunk
			result = append(result, &copied)
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (m *memoryCorpus) SetChunkEmbedding(id string, embedding []float32, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	chunk.Embedding = embedding
	chunk.EmbeddingModel = model
	chunk.Pending = false
	return nil
}

func (m *memoryCorpus) DeleteCorpus(tag string) error { return nil }

func (m *memoryCorpus) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, chunk := range m.chunks {
		if chunk.Pending {
			count++
		}
	}
	return count
}

func TestRunOnce_BackfillsPendingChunks(t *testing.T) {
	corpus := newMemoryCorpus()
	require.NoError(t, corpus.AppendChunks([]*models.Chunk{
		{ID: "chk_1", Text: "pending one", CorpusTag: "course", Pending: true},
		{ID: "chk_2", Text: "pending two", CorpusTag: "course", Pending: true},
		{ID: "chk_3", Text: "done", CorpusTag: "course", Embedding: []float32{1}},
	}))

	coordinator := NewCoordinator(
		corpus,
		newTestService(llm.NewMockService(8)),
		&common.ProcessingConfig{Enabled: true, Schedule: "0 */5 * * * *", Limit: 10},
		common.GetLogger(),
	)

	coordinator.RunOnce(context.Background())

	assert.Zero(t, corpus.pendingCount())
	chunk := corpus.chunks["chk_1"]
	assert.True(t, chunk.Embedded())
	assert.Equal(t, "mock-embed", chunk.EmbeddingModel)
}

func TestRunOnce_FailedChunksStayPending(t *testing.T) {
	corpus := newMemoryCorpus()
	require.NoError(t, corpus.AppendChunks([]*models.Chunk{
		{ID: "chk_1", Text: "poison", CorpusTag: "course", Pending: true},
		{ID: "chk_2", Text: "fine", CorpusTag: "course", Pending: true},
	}))

	mock := llm.NewMockService(8)
	mock.FailEmbedTexts = map[string]bool{"poison": true}
	coordinator := NewCoordinator(
		corpus,
		newTestService(mock),
		&common.ProcessingConfig{Enabled: true, Schedule: "0 */5 * * * *", Limit: 10},
		common.GetLogger(),
	)

	coordinator.RunOnce(context.Background())

	assert.Equal(t, 1, corpus.pendingCount())
	assert.True(t, corpus.chunks["chk_1"].Pending)
	assert.False(t, corpus.chunks["chk_2"].Pending)
}

func TestRunOnce_HonorsBatchLimit(t *testing.T) {
	corpus := newMemoryCorpus()
	require.NoError(t, corpus.AppendChunks([]*models.Chunk{
		{ID: "chk_1", Text: "one", Pending: true},
		{ID: "chk_2", Text: "two", Pending: true},
		{ID: "chk_3", Text: "three", Pending: true},
	}))

	coordinator := NewCoordinator(
		corpus,
		newTestService(llm.NewMockService(8)),
		&common.ProcessingConfig{Enabled: true, Schedule: "0 */5 * * * *", Limit: 2},
		common.GetLogger(),
	)

	coordinator.RunOnce(context.Background())
	assert.Equal(t, 1, corpus.pendingCount(), "one chunk waits for the next run")

	coordinator.RunOnce(context.Background())
	assert.Zero(t, corpus.pendingCount())
}

func TestStart_DisabledIsNoOp(t *testing.T) {
	coordinator := NewCoordinator(
		newMemoryCorpus(),
		newTestService(llm.NewMockService(8)),
		&common.ProcessingConfig{Enabled: false},
		common.GetLogger(),
	)
	require.NoError(t, coordinator.Start())
	coordinator.Stop()
}

func TestStart_BadScheduleRejected(t *testing.T) {
	coordinator := NewCoordinator(
		newMemoryCorpus(),
		newTestService(llm.NewMockService(8)),
		&common.ProcessingConfig{Enabled: true, Schedule: "not a schedule"},
		common.GetLogger(),
	)
	assert.Error(t, coordinator.Start())
}
