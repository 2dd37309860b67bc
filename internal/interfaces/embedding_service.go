package interfaces

import (
	"context"

	"github.com/lectern-ai/lectern/internal/models"
)

// EmbeddingService generates vector embeddings
type EmbeddingService interface {
	// Generate embedding for raw text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Generate query embedding (may have different handling than chunk embedding)
	GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error)

	// Generate and set embedding for a chunk
	EmbedChunk(ctx context.Context, chunk *models.Chunk) error

	// Generate and set embeddings for multiple chunks in one gateway call.
	// Chunks whose embedding could not be produced stay pending; the count
	// of embedded chunks is returned.
	EmbedChunks(ctx context.Context, chunks []*models.Chunk) (int, error)

	// Get model information
	ModelName() string
	Dimension() int
}
