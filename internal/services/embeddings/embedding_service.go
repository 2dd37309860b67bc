package embeddings

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
)

// Service generates embeddings through the LLM gateway with client-side
// rate limiting. Transient gateway failures get one retry; a chunk that
// still fails stays pending for the scheduled backfill.
type Service struct {
	llm       interfaces.LLMService
	limiter   *rate.Limiter
	modelName string
	logger    arbor.ILogger
}

// NewService wraps the LLM gateway. requestsPerSecond of 0 disables the
// client-side limit.
func NewService(llm interfaces.LLMService, modelName string, requestsPerSecond float64, logger arbor.ILogger) *Service {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Service{
		llm:       llm,
		limiter:   rate.NewLimiter(limit, 1),
		modelName: modelName,
		logger:    logger,
	}
}

// GenerateEmbedding embeds raw text, retrying once on gateway failure.
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", interfaces.ErrInvalidInput)
	}

	vector, err := s.embedWithRetry(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUpstream, err)
	}
	return vector, nil
}

// GenerateQueryEmbedding embeds a retrieval query. Queries use the same
// model as chunks so similarity scores stay comparable.
func (s *Service) GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error) {
	return s.GenerateEmbedding(ctx, query)
}

// EmbedChunk embeds a single chunk and fills in its embedding fields.
func (s *Service) EmbedChunk(ctx context.Context, chunk *models.Chunk) error {
	vector, err := s.GenerateEmbedding(ctx, chunk.Text)
	if err != nil {
		return err
	}

	chunk.Embedding = vector
	chunk.EmbeddingModel = s.modelName
	chunk.Pending = false
	return nil
}

// EmbedChunks embeds a batch of chunks in one gateway call, falling back to
// per-chunk calls when the batch fails. Chunks that still fail stay pending;
// the count of embedded chunks is returned.
func (s *Service) EmbedChunks(ctx context.Context, chunks []*models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrUpstream, err)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := s.llm.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) == len(chunks) {
		for i, chunk := range chunks {
			chunk.Embedding = vectors[i]
			chunk.EmbeddingModel = s.modelName
			chunk.Pending = false
		}
		return len(chunks), nil
	}

	s.logger.Warn().
		Err(err).
		Int("batch_size", len(chunks)).
		Msg("Batch embedding failed, falling back to per-chunk calls")

	embedded := 0
	var lastErr error
	for _, chunk := range chunks {
		if err := s.EmbedChunk(ctx, chunk); err != nil {
			chunk.Pending = true
			lastErr = err
			s.logger.Warn().
				Err(err).
				Str("chunk_id", chunk.ID).
				Msg("Chunk embedding failed, left pending")
			continue
		}
		embedded++
	}

	if embedded == 0 && lastErr != nil {
		return 0, lastErr
	}
	return embedded, nil
}

// ModelName returns the embedding model identifier.
func (s *Service) ModelName() string {
	return s.modelName
}

// Dimension returns the embedding vector dimensionality.
func (s *Service) Dimension() int {
	return s.llm.EmbedDimension()
}

// embedWithRetry performs a rate-limited embed with one retry.
func (s *Service) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vector, err := s.llm.Embed(ctx, text)
	if err == nil {
		return vector, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	s.logger.Debug().Err(err).Msg("Embedding call failed, retrying once")

	if waitErr := s.limiter.Wait(ctx); waitErr != nil {
		return nil, waitErr
	}
	vector, retryErr := s.llm.Embed(ctx, text)
	if retryErr != nil {
		return nil, fmt.Errorf("embedding failed after retry: %w", retryErr)
	}
	return vector, nil
}
