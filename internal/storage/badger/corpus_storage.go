package badger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
)

// corpusMeta tracks the next ingestion sequence for one corpus tag.
type corpusMeta struct {
	Tag     string `badgerhold:"key"`
	NextSeq uint64
}

// CorpusStorage implements the CorpusStorage interface for Badger.
// Corpora are append-only: chunks are written once and only their
// embedding fields may be filled in afterwards.
type CorpusStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Guards per-corpus sequence assignment. Appends are rare relative to
	// queries, so one mutex across all tags is enough.
	seqMu sync.Mutex
}

// NewCorpusStorage creates a new CorpusStorage instance
func NewCorpusStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CorpusStorage {
	return &CorpusStorage{
		db:     db,
		logger: logger,
	}
}

// AppendChunks stores chunks under their corpus tags, assigning each a
// monotonic per-corpus ingestion sequence used for deterministic
// tie-breaking at query time.
func (s *CorpusStorage) AppendChunks(chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("chunk ID is required")
		}
		if chunk.CorpusTag == "" {
			return fmt.Errorf("chunk corpus tag is required")
		}

		seq, err := s.nextSeq(chunk.CorpusTag)
		if err != nil {
			return err
		}
		chunk.Seq = seq
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now()
		}

		if err := s.db.Store().Insert(chunk.ID, chunk); err != nil {
			return fmt.Errorf("failed to append chunk: %w", err)
		}
	}

	return nil
}

// nextSeq increments and persists the per-corpus sequence counter.
// Caller holds seqMu.
func (s *CorpusStorage) nextSeq(tag string) (uint64, error) {
	var meta corpusMeta
	err := s.db.Store().Get(tag, &meta)
	if err == badgerhold.ErrNotFound {
		meta = corpusMeta{Tag: tag}
	} else if err != nil {
		return 0, fmt.Errorf("failed to load corpus meta: %w", err)
	}

	seq := meta.NextSeq
	meta.NextSeq++
	if err := s.db.Store().Upsert(tag, &meta); err != nil {
		return 0, fmt.Errorf("failed to save corpus meta: %w", err)
	}
	return seq, nil
}

// GetEmbeddedChunks returns all embedded chunks for a tag ordered by
// ingestion sequence. An unknown tag yields an empty slice, not an error.
func (s *CorpusStorage) GetEmbeddedChunks(tag string) ([]*models.Chunk, error) {
	var chunks []models.Chunk
	if err := s.db.Store().Find(&chunks, badgerhold.Where("CorpusTag").Eq(tag).Index("CorpusTag")); err != nil {
		return nil, fmt.Errorf("failed to load corpus %s: %w", tag, err)
	}

	result := make([]*models.Chunk, 0, len(chunks))
	for i := range chunks {
		if chunks[i].Embedded() {
			result = append(result, &chunks[i])
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })

	return result, nil
}

// GetPendingChunks returns up to limit chunks still awaiting an embedding.
func (s *CorpusStorage) GetPendingChunks(limit int) ([]*models.Chunk, error) {
	var chunks []models.Chunk
	query := badgerhold.Where("Pending").Eq(true).Index("Pending")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&chunks, query); err != nil {
		return nil, fmt.Errorf("failed to load pending chunks: %w", err)
	}

	result := make([]*models.Chunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	return result, nil
}

// SetChunkEmbedding fills in the embedding of a pending chunk and clears
// its pending flag. The chunk text and metadata stay untouched.
func (s *CorpusStorage) SetChunkEmbedding(id string, embedding []float32, model string) error {
	var chunk models.Chunk
	if err := s.db.Store().Get(id, &chunk); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("chunk %s: %w", id, interfaces.ErrNotFound)
		}
		return fmt.Errorf("failed to get chunk: %w", err)
	}

	chunk.Embedding = embedding
	chunk.EmbeddingModel = model
	chunk.Pending = false

	if err := s.db.Store().Upsert(id, &chunk); err != nil {
		return fmt.Errorf("failed to update chunk embedding: %w", err)
	}
	return nil
}

// DeleteCorpus removes every chunk carrying the tag plus its sequence meta.
func (s *CorpusStorage) DeleteCorpus(tag string) error {
	if err := s.db.Store().DeleteMatching(&models.Chunk{}, badgerhold.Where("CorpusTag").Eq(tag).Index("CorpusTag")); err != nil {
		return fmt.Errorf("failed to delete corpus %s: %w", tag, err)
	}
	if err := s.db.Store().Delete(tag, &corpusMeta{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete corpus meta %s: %w", tag, err)
	}
	s.logger.Info().Str("corpus", tag).Msg("Corpus deleted")
	return nil
}
