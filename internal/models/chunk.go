package models

import "time"

// Chunk is an immutable text segment cut from an uploaded document.
// The corpus tag and source metadata are fixed at ingestion time; only
// the embedding fields may be filled in later by the backfill coordinator.
type Chunk struct {
	ID             string    `json:"id" badgerhold:"key"`
	Text           string    `json:"text"`
	Source         string    `json:"source"`
	Page           int       `json:"page,omitempty"`
	CorpusTag      string    `json:"corpus_tag" badgerhold:"index"`
	Seq            uint64    `json:"seq"`
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Pending        bool      `json:"pending" badgerhold:"index"`
	CreatedAt      time.Time `json:"created_at"`
}

// Embedded reports whether the chunk carries a usable embedding vector.
func (c *Chunk) Embedded() bool {
	return len(c.Embedding) > 0
}

// UploadDocument is the ephemeral in-memory form of an upload request.
// It is owned by the ingesting call and never persisted as-is.
type UploadDocument struct {
	Filename  string
	Content   []byte
	CorpusTag string
}
