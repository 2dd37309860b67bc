package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/models"
	"github.com/lectern-ai/lectern/internal/services/chunker"
)

// Result summarizes one ingested upload.
type Result struct {
	CorpusTag      string `json:"corpus_tag"`
	ChunksTotal    int    `json:"chunks_total"`
	ChunksEmbedded int    `json:"chunks_embedded"`
	ChunksPending  int    `json:"chunks_pending"`
}

// Service turns uploaded documents into embedded, indexed corpus chunks.
// The pipeline is validate, extract, chunk, embed, index. Validation
// failures reject the upload before any corpus mutation; embedding
// failures leave chunks pending for the scheduled backfill.
type Service struct {
	chunker  *chunker.Service
	embedder interfaces.EmbeddingService
	index    interfaces.CorpusIndex
	config   *common.IngestConfig
	logger   arbor.ILogger
}

// NewService creates the ingest service.
func NewService(chunker *chunker.Service, embedder interfaces.EmbeddingService, index interfaces.CorpusIndex, config *common.IngestConfig, logger arbor.ILogger) *Service {
	return &Service{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		config:   config,
		logger:   logger,
	}
}

// Ingest processes one upload into the document's corpus. An upload that
// yields zero usable chunks is rejected with ErrPartialIngestion and leaves
// the corpus untouched.
func (s *Service) Ingest(ctx context.Context, doc models.UploadDocument) (*Result, error) {
	if err := s.validate(doc); err != nil {
		return nil, err
	}

	text, err := s.extractText(doc)
	if err != nil {
		return nil, err
	}

	pieces := s.chunker.Split(text)
	chunks := make([]*models.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		chunks = append(chunks, &models.Chunk{
			ID:        common.NewChunkID(),
			Text:      piece,
			Source:    doc.Filename,
			CorpusTag: doc.CorpusTag,
			Pending:   true,
			CreatedAt: time.Now(),
		})
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", doc.Filename, interfaces.ErrPartialIngestion)
	}

	embedded, err := s.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("file", doc.Filename).
			Msg("Embedding failed for every chunk; all stay pending for backfill")
	}

	if err := s.index.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to index upload: %w", err)
	}

	result := &Result{
		CorpusTag:      doc.CorpusTag,
		ChunksTotal:    len(chunks),
		ChunksEmbedded: embedded,
		ChunksPending:  len(chunks) - embedded,
	}

	s.logger.Info().
		Str("file", doc.Filename).
		Str("corpus", doc.CorpusTag).
		Int("chunks", result.ChunksTotal).
		Int("embedded", result.ChunksEmbedded).
		Int("pending", result.ChunksPending).
		Msg("Upload ingested")

	return result, nil
}

// validate rejects uploads before any external call.
func (s *Service) validate(doc models.UploadDocument) error {
	if strings.TrimSpace(doc.CorpusTag) == "" {
		return fmt.Errorf("%w: corpus tag cannot be empty", interfaces.ErrInvalidInput)
	}
	if doc.Filename == "" {
		return fmt.Errorf("%w: filename cannot be empty", interfaces.ErrInvalidInput)
	}

	ext := strings.ToLower(filepath.Ext(doc.Filename))
	if !s.extensionAllowed(ext) {
		return fmt.Errorf("%w: unsupported file type %q (allowed: %s)", interfaces.ErrInvalidInput, ext, strings.Join(s.config.AllowedExtensions, ", "))
	}

	if int64(len(doc.Content)) > s.config.MaxUploadBytes {
		return fmt.Errorf("%w: upload of %d bytes exceeds limit of %d", interfaces.ErrInvalidInput, len(doc.Content), s.config.MaxUploadBytes)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("%w: upload is empty", interfaces.ErrInvalidInput)
	}

	return nil
}

func (s *Service) extensionAllowed(ext string) bool {
	for _, allowed := range s.config.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// extractText flattens the upload into plain text. CSV files become one
// tab-separated line per record, header included, so tabular evaluations
// chunk the same way a rendered table would.
func (s *Service) extractText(doc models.UploadDocument) (string, error) {
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	switch ext {
	case ".csv":
		return flattenCSV(doc.Content)
	default:
		return string(doc.Content), nil
	}
}

func flattenCSV(content []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("%w: could not read CSV file: %v", interfaces.ErrInvalidInput, err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: the CSV file appears to be empty", interfaces.ErrInvalidInput)
	}

	lines := make([]string, len(records))
	for i, record := range records {
		lines[i] = strings.Join(record, "\t")
	}
	return strings.Join(lines, "\n"), nil
}
