package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
)

// NewLLMService creates the LLM service implementation selected by
// configuration. The claude provider pairs Claude chat with a Gemini
// embedder because Anthropic exposes no embedding endpoint.
func NewLLMService(cfg *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (interfaces.LLMService, error) {
	logger.Info().Str("provider", cfg.LLM.Provider).Msg("Initializing LLM service")

	switch cfg.LLM.Provider {
	case "gemini":
		return NewGeminiService(cfg, kvStorage, logger)

	case "claude":
		chat, err := NewClaudeService(&cfg.Claude, kvStorage, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude service: %w", err)
		}
		embed, err := NewGeminiService(cfg, kvStorage, logger)
		if err != nil {
			return nil, fmt.Errorf("claude provider still needs a Gemini embedder: %w", err)
		}
		return &splitService{chat: chat, embed: embed}, nil

	case "mock":
		logger.Warn().Msg("Using mock LLM service; responses are canned")
		return NewMockService(cfg.LLM.EmbedDimension), nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider '%s': must be 'gemini', 'claude' or 'mock'", cfg.LLM.Provider)
	}
}

// splitService routes chat calls to one provider and embedding calls to
// another.
type splitService struct {
	chat  interfaces.LLMService
	embed interfaces.LLMService
}

func (s *splitService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embed.Embed(ctx, text)
}

func (s *splitService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed.EmbedBatch(ctx, texts)
}

func (s *splitService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	return s.chat.Chat(ctx, messages)
}

func (s *splitService) ChatStream(ctx context.Context, messages []interfaces.Message, fn interfaces.StreamFunc) error {
	return s.chat.ChatStream(ctx, messages, fn)
}

func (s *splitService) ModelName() string {
	return s.chat.ModelName()
}

func (s *splitService) EmbedDimension() int {
	return s.embed.EmbedDimension()
}

func (s *splitService) Close() error {
	chatErr := s.chat.Close()
	embedErr := s.embed.Close()
	if chatErr != nil {
		return chatErr
	}
	return embedErr
}
