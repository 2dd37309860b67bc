package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/lectern-ai/lectern/internal/interfaces"
)

// MockService is a deterministic LLMService used by tests and the "mock"
// provider. Embeddings are derived from a hash of the input text, so equal
// texts always map to equal vectors. Chat responses are scripted.
type MockService struct {
	mu sync.Mutex

	// Responses are consumed in order by Chat/ChatStream. When exhausted
	// (or empty), the last user message is echoed back.
	Responses []string
	next      int

	// LastMessages holds the conversation passed to the most recent
	// Chat/ChatStream call, for prompt assertions.
	LastMessages []interfaces.Message

	// ChatErr, when set, fails every Chat/ChatStream call immediately.
	ChatErr error

	// EmbedErr, when set, fails every embedding call. FailEmbedTexts fails
	// only the listed texts, leaving the rest of a batch usable.
	EmbedErr       error
	FailEmbedTexts map[string]bool

	// FailAfterFragments, when positive, makes ChatStream return StreamErr
	// after delivering that many fragments.
	FailAfterFragments int
	StreamErr          error

	// FragmentSize is the streaming fragment length in runes (default 8).
	// FragmentDelay inserts a pause before each fragment.
	FragmentSize  int
	FragmentDelay time.Duration

	dimension int
}

// NewMockService creates a mock with the given embedding dimensionality.
func NewMockService(dimension int) *MockService {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockService{dimension: dimension}
}

// Embed returns a deterministic unit vector derived from the text hash.
func (s *MockService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	embedErr := s.EmbedErr
	failText := s.FailEmbedTexts[text]
	s.mu.Unlock()

	if embedErr != nil {
		return nil, embedErr
	}
	if failText {
		return nil, fmt.Errorf("mock embedding failure for %q", text)
	}
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}

	return deterministicVector(text, s.dimension), nil
}

// EmbedBatch embeds each text in order.
func (s *MockService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// Chat returns the next scripted response.
func (s *MockService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.nextResponse(messages)
}

// ChatStream splits the next scripted response into fragments and feeds
// them to fn, honoring the configured failure point and fragment delay.
func (s *MockService) ChatStream(ctx context.Context, messages []interfaces.Message, fn interfaces.StreamFunc) error {
	response, err := s.nextResponse(messages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	fragmentSize := s.FragmentSize
	failAfter := s.FailAfterFragments
	streamErr := s.StreamErr
	delay := s.FragmentDelay
	s.mu.Unlock()

	if fragmentSize <= 0 {
		fragmentSize = 8
	}

	runes := []rune(response)
	delivered := 0
	for start := 0; start < len(runes); start += fragmentSize {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if failAfter > 0 && delivered >= failAfter {
			if streamErr != nil {
				return streamErr
			}
			return fmt.Errorf("mock stream failure after %d fragments", delivered)
		}

		end := start + fragmentSize
		if end > len(runes) {
			end = len(runes)
		}
		if fnErr := fn(string(runes[start:end])); fnErr != nil {
			return fnErr
		}
		delivered++
	}

	return nil
}

// ModelName returns a fixed identifier.
func (s *MockService) ModelName() string {
	return "mock-model"
}

// EmbedDimension returns the configured embedding dimensionality.
func (s *MockService) EmbedDimension() int {
	return s.dimension
}

// Close is a no-op.
func (s *MockService) Close() error {
	return nil
}

func (s *MockService) nextResponse(messages []interfaces.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty for chat completion")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastMessages = append([]interfaces.Message(nil), messages...)

	if s.ChatErr != nil {
		return "", s.ChatErr
	}

	if s.next < len(s.Responses) {
		response := s.Responses[s.next]
		s.next++
		return response, nil
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return "echo: " + messages[i].Content, nil
		}
	}
	return "", fmt.Errorf("at least one message must have role 'user'")
}

// deterministicVector hashes the text into a stable unit vector.
func deterministicVector(text string, dimension int) []float32 {
	vector := make([]float32, dimension)
	var norm float64
	for i := range vector {
		h := fnv.New64a()
		fmt.Fprintf(h, "%d:%s", i, text)
		// Map the hash onto [-1, 1)
		v := float64(int64(h.Sum64())) / float64(math.MaxInt64)
		vector[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}
