package interfaces

import (
	"context"

	"github.com/lectern-ai/lectern/internal/models"
)

// CorpusIndex is the vector index over ingested chunks. Writes are
// append-only; queries are read-only and scoped to one corpus tag.
type CorpusIndex interface {
	// Upsert indexes embedded chunks under their corpus tags.
	Upsert(ctx context.Context, chunks []*models.Chunk) error

	// Query ranks the corpus's chunks by similarity to the vector, drops
	// entries scoring under threshold and truncates to k. Equal scores
	// rank by ingestion order. An unknown tag yields an empty result.
	Query(ctx context.Context, vector []float32, tag string, k int, threshold float32) ([]models.ScoredChunk, error)

	// DeleteCorpus removes an entire corpus from the index.
	DeleteCorpus(ctx context.Context, tag string) error
}

// Retriever answers a question against one or more corpora, returning a
// per-corpus result keyed by tag. Per-corpus failures are reported inside
// the corresponding RetrievalResult, never as a call-level error.
type Retriever interface {
	Retrieve(ctx context.Context, question string, corpusTags []string, k int, threshold float32) (map[string]models.RetrievalResult, error)
}
