package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// StreamFunc receives one generated text fragment. Returning an error stops
// the stream; the provider must not deliver further fragments after that.
type StreamFunc func(fragment string) error

// LLMService defines the interface for language model operations: embedding
// generation plus blocking and streaming chat completions. Implementations
// use cloud APIs (Gemini, Claude) or a deterministic mock for tests.
type LLMService interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one embedding per input text, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Chat generates a completion for the conversation history and returns
	// the full response text once generation finishes.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream generates a completion incrementally, invoking fn for each
	// text fragment as the model produces it. It returns nil on natural
	// completion, the fn error if the consumer stopped the stream, or the
	// upstream error on mid-stream failure. Fragments delivered before a
	// failure are not re-sent.
	ChatStream(ctx context.Context, messages []Message, fn StreamFunc) error

	// ModelName returns the chat model identifier.
	ModelName() string

	// EmbedDimension returns the embedding vector dimensionality.
	EmbedDimension() int

	// Close releases resources and performs cleanup operations.
	Close() error
}
