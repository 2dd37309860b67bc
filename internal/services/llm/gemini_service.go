package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
)

// GeminiService implements the LLMService interface using the Google GenAI
// SDK. It provides embeddings plus blocking and streaming chat completions.
type GeminiService struct {
	config  *common.LLMConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
}

// convertMessagesToGemini converts []interfaces.Message to Gemini Content
// format, preserving chronological ordering. System messages are extracted
// separately for use with SystemInstruction.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}

	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		var geminiRole string
		switch msg.Role {
		case "assistant":
			geminiRole = genai.RoleModel
		default:
			geminiRole = genai.RoleUser
		}

		contents = append(contents, &genai.Content{
			Role:  geminiRole,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}

	return contents, systemText, nil
}

// NewGeminiService creates a new Gemini LLM service instance.
//
// The API key is resolved KV-store-first with config fallback, so keys
// rotated at runtime take effect without a restart.
func NewGeminiService(config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (*GeminiService, error) {
	ctx := context.Background()
	apiKey, err := common.ResolveAPIKey(ctx, kvStorage, "gemini_api_key", config.LLM.GoogleAPIKey)
	if err != nil {
		return nil, fmt.Errorf("Google API key is required for Gemini service (set via KV store, GEMINI_API_KEY, or llm.google_api_key in config): %w", err)
	}

	if config.LLM.EmbedModelName == "" {
		config.LLM.EmbedModelName = "gemini-embedding-001"
	}
	if config.LLM.ChatModelName == "" {
		config.LLM.ChatModelName = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	service := &GeminiService{
		config:  &config.LLM,
		logger:  logger,
		client:  client,
		timeout: common.ParseDurationOr(config.LLM.Timeout, 60*time.Second),
	}

	logger.Info().
		Str("embed_model", config.LLM.EmbedModelName).
		Str("chat_model", config.LLM.ChatModelName).
		Int("embed_dimension", config.LLM.EmbedDimension).
		Dur("timeout", service.timeout).
		Msg("Gemini LLM service initialized successfully")

	return service, nil
}

// Embed generates an embedding vector for the given text using the
// configured embedding model and output dimensionality.
func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vectors, err := s.embedContents(timeoutCtx, []string{text})
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("text_length", len(text)).
			Msg("Embedding generation failed")
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	return vectors[0], nil
}

// EmbedBatch generates one embedding per input text in a single gateway
// call, preserving input order.
func (s *GeminiService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d cannot be empty for embedding generation", i)
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	vectors, err := s.embedContents(timeoutCtx, texts)
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("batch_size", len(texts)).
			Msg("Batch embedding generation failed")
		return nil, fmt.Errorf("batch embedding generation failed: %w", err)
	}

	s.logger.Debug().
		Int("batch_size", len(texts)).
		Dur("duration", time.Since(startTime)).
		Msg("Batch embedding generation completed")

	return vectors, nil
}

// Chat generates a completion for the conversation history and returns the
// full response text once generation finishes.
func (s *GeminiService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty for chat completion")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Int("message_count", len(messages)).
		Msg("Starting chat completion")

	geminiContents, config, err := s.buildRequest(messages)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Models.GenerateContent(timeoutCtx, s.config.ChatModelName, geminiContents, config)
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("message_count", len(messages)).
			Msg("Chat completion failed")
		return "", fmt.Errorf("chat generation failed: %w", err)
	}

	var response strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from chat model")
	}

	s.logger.Debug().
		Int("message_count", len(messages)).
		Int("response_length", response.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Chat completion completed successfully")

	return response.String(), nil
}

// ChatStream generates a completion incrementally, invoking fn for each text
// fragment as the model produces it. A fn error stops the stream and is
// returned unwrapped so callers can match on it.
func (s *GeminiService) ChatStream(ctx context.Context, messages []interfaces.Message, fn interfaces.StreamFunc) error {
	if len(messages) == 0 {
		return fmt.Errorf("messages cannot be empty for chat completion")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	geminiContents, config, err := s.buildRequest(messages)
	if err != nil {
		return err
	}

	for resp, err := range s.client.Models.GenerateContentStream(timeoutCtx, s.config.ChatModelName, geminiContents, config) {
		if err != nil {
			return fmt.Errorf("streaming chat generation failed: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			if fnErr := fn(part.Text); fnErr != nil {
				return fnErr
			}
		}
	}

	return nil
}

// ModelName returns the chat model identifier.
func (s *GeminiService) ModelName() string {
	return s.config.ChatModelName
}

// EmbedDimension returns the embedding vector dimensionality.
func (s *GeminiService) EmbedDimension() int {
	return s.config.EmbedDimension
}

// Close releases resources and performs cleanup operations.
func (s *GeminiService) Close() error {
	s.logger.Info().Msg("Closing Gemini LLM service")
	s.client = nil
	return nil
}

// buildRequest converts messages and assembles the generation config shared
// by the blocking and streaming paths.
func (s *GeminiService) buildRequest(messages []interfaces.Message) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	geminiContents, systemText, err := convertMessagesToGemini(messages)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert messages to Gemini format: %w", err)
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(s.config.Temperature),
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	return geminiContents, config, nil
}

// embedContents runs one EmbedContent call for all texts and validates the
// returned vectors against the configured dimensionality.
func (s *GeminiService) embedContents(ctx context.Context, texts []string) ([][]float32, error) {
	outputDim := int32(s.config.EmbedDimension)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := s.client.Models.EmbedContent(ctx, s.config.EmbedModelName, contents, embeddingConfig)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), got)
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range result.Embeddings {
		if embedding == nil || len(embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for text %d", i)
		}
		if len(embedding.Values) != s.config.EmbedDimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.config.EmbedDimension, len(embedding.Values))
		}
		vectors[i] = embedding.Values
	}

	return vectors, nil
}
