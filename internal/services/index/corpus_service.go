package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
)

// Service is the storage-backed vector index. Chunks live in the corpus
// store; queries load a tag's embedded chunks and rank them by cosine
// similarity in memory. Corpora are small enough that a scan per query
// beats maintaining a separate index structure.
type Service struct {
	corpus interfaces.CorpusStorage
	logger arbor.ILogger
}

// NewService creates a corpus index over the given store.
func NewService(corpus interfaces.CorpusStorage, logger arbor.ILogger) *Service {
	return &Service{
		corpus: corpus,
		logger: logger,
	}
}

// Upsert appends embedded chunks to their corpora.
func (s *Service) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.corpus.AppendChunks(chunks); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// Query ranks the tag's chunks by cosine similarity to the vector, drops
// entries scoring under threshold and truncates to k. Equal scores rank by
// ingestion order, so repeated queries return identical lists. An unknown
// tag yields an empty result.
func (s *Service) Query(ctx context.Context, vector []float32, tag string, k int, threshold float32) ([]models.ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", interfaces.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", interfaces.ErrInvalidInput, k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks, err := s.corpus.GetEmbeddedChunks(tag)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus %s: %w", tag, err)
	}

	type candidate struct {
		chunk *models.Chunk
		score float32
	}
	candidates := make([]candidate, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) != len(vector) {
			s.logger.Warn().
				Str("chunk_id", chunk.ID).
				Int("chunk_dim", len(chunk.Embedding)).
				Int("query_dim", len(vector)).
				Msg("Skipping chunk with mismatched embedding dimension")
			continue
		}
		score := cosineSimilarity(vector, chunk.Embedding)
		if score < threshold {
			continue
		}
		candidates = append(candidates, candidate{chunk: chunk, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].chunk.Seq < candidates[j].chunk.Seq
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	result := make([]models.ScoredChunk, len(candidates))
	for i, c := range candidates {
		result[i] = models.ScoredChunk{
			Text:   c.chunk.Text,
			Score:  c.score,
			Source: c.chunk.Source,
		}
	}

	return result, nil
}

// DeleteCorpus removes an entire corpus from the index.
func (s *Service) DeleteCorpus(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.corpus.DeleteCorpus(tag)
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Zero vectors score 0 rather than NaN.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
