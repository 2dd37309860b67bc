package interfaces

import (
	"context"
	"time"

	"github.com/lectern-ai/lectern/internal/models"
)

// SessionStorage persists chat sessions. A session's message log lives
// inside its record, so every mutation is a single-key atomic write.
type SessionStorage interface {
	SaveSession(session *models.Session) error
	GetSession(id string) (*models.Session, error)
	DeleteSession(id string) error
	ListSessionsByOwner(owner string) ([]*models.Session, error)

	// UpdateSession applies fn to the stored session in a single atomic
	// step. Concurrent updates to one session never lose each other's
	// writes: an append and a title change racing each other both land.
	UpdateSession(id string, fn func(session *models.Session) error) error
}

// CorpusStorage persists embedded chunks grouped by corpus tag. Corpora
// are append-only; chunks are never mutated except to fill in an embedding
// that failed at ingest time.
type CorpusStorage interface {
	// AppendChunks stores chunks under their corpus tag, assigning each a
	// monotonic per-corpus ingestion sequence.
	AppendChunks(chunks []*models.Chunk) error

	// GetEmbeddedChunks returns all embedded chunks for a tag ordered by
	// ingestion sequence. An unknown tag yields an empty slice.
	GetEmbeddedChunks(tag string) ([]*models.Chunk, error)

	// GetPendingChunks returns up to limit chunks awaiting an embedding.
	GetPendingChunks(limit int) ([]*models.Chunk, error)

	// SetChunkEmbedding fills in the embedding of a pending chunk.
	SetChunkEmbedding(id string, embedding []float32, model string) error

	// DeleteCorpus removes every chunk carrying the tag.
	DeleteCorpus(tag string) error
}

// UserStorage is the minimal owner registry consulted by session create/list.
type UserStorage interface {
	SaveUser(user *models.User) error
	GetUser(email string) (*models.User, error)
}

// KeyValuePair represents one stored key/value entry.
type KeyValuePair struct {
	Key         string `badgerhold:"key"`
	Value       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// KeyValueStorage stores configuration values and API keys (case-insensitive keys).
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, description string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// StorageManager bundles the storage interfaces behind one lifecycle.
type StorageManager interface {
	SessionStorage() SessionStorage
	CorpusStorage() CorpusStorage
	UserStorage() UserStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
