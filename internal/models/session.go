package models

import "time"

// Message senders. Messages only ever originate from the asking user or
// the generating model; system prompts live in the prompt templates.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// ChatMessage is a single append-only entry in a session's message log.
// Incomplete marks an assistant message whose generation terminated on
// failure, cancellation or timeout; the text still holds every fragment
// that streamed before the terminal signal.
type ChatMessage struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	Incomplete bool      `json:"incomplete,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is a stateful conversation owned by a single user. The message
// log lives inside the session record so every mutation is a single-key
// atomic upsert in the store.
type Session struct {
	ID            string        `json:"id" badgerhold:"key"`
	Owner         string        `json:"owner" badgerhold:"index"`
	Title         string        `json:"title"`
	CorpusTag     string        `json:"corpus_tag,omitempty"`
	Messages      []ChatMessage `json:"messages"`
	CreatedAt     time.Time     `json:"created_at"`
	LastMessageAt time.Time     `json:"last_message_at"`
}

// User is the minimal owner record consulted on session create/list.
// Signup, authentication and mail flows are external to this service.
type User struct {
	Email     string    `json:"email" badgerhold:"key"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
