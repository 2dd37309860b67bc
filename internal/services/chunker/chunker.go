package chunker

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/interfaces"
)

// Service splits document text into fixed-size overlapping chunks.
// Sizes are measured in runes so multi-byte text never splits mid-character.
type Service struct {
	maxChunkSize int
	chunkOverlap int
	logger       arbor.ILogger
}

// NewService creates a chunker with the given window size and overlap.
// Overlap must be smaller than the window or the split could never advance.
func NewService(maxChunkSize, chunkOverlap int, logger arbor.ILogger) (*Service, error) {
	if maxChunkSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", interfaces.ErrInvalidInput, maxChunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must be non-negative, got %d", interfaces.ErrInvalidInput, chunkOverlap)
	}
	if chunkOverlap >= maxChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than max chunk size %d", interfaces.ErrInvalidInput, chunkOverlap, maxChunkSize)
	}

	return &Service{
		maxChunkSize: maxChunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}, nil
}

// Split slices text into windows of at most maxChunkSize runes, each window
// starting chunkOverlap runes before the previous one ended. The final
// window may be shorter. Empty text yields no chunks.
func (s *Service) Split(text string) []string {
	if text == "" {
		return []string{}
	}

	runes := []rune(text)
	if len(runes) <= s.maxChunkSize {
		return []string{text}
	}

	step := s.maxChunkSize - s.chunkOverlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)

	for start := 0; start < len(runes); start += step {
		end := start + s.maxChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// MaxChunkSize returns the configured window size in runes.
func (s *Service) MaxChunkSize() int {
	return s.maxChunkSize
}

// ChunkOverlap returns the configured overlap in runes.
func (s *Service) ChunkOverlap() int {
	return s.chunkOverlap
}
