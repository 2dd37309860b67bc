package embeddings

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
)

// Coordinator runs the scheduled embedding backfill. Chunks whose embedding
// failed at ingest time stay pending in the corpus store; each run picks up
// a bounded batch and retries them through the gateway.
type Coordinator struct {
	corpus   interfaces.CorpusStorage
	embedder interfaces.EmbeddingService
	config   *common.ProcessingConfig
	logger   arbor.ILogger
	cron     *cron.Cron
	running  atomic.Bool
}

// NewCoordinator creates the backfill coordinator. Call Start to begin
// scheduled runs.
func NewCoordinator(corpus interfaces.CorpusStorage, embedder interfaces.EmbeddingService, config *common.ProcessingConfig, logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		corpus:   corpus,
		embedder: embedder,
		config:   config,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the cron schedule and starts the scheduler. Disabled
// processing is a no-op so tests and one-shot tools can skip it.
func (c *Coordinator) Start() error {
	if !c.config.Enabled {
		c.logger.Info().Msg("Embedding backfill disabled")
		return nil
	}

	_, err := c.cron.AddFunc(c.config.Schedule, func() {
		c.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	c.cron.Start()
	c.logger.Info().
		Str("schedule", c.config.Schedule).
		Int("limit", c.config.Limit).
		Msg("Embedding backfill scheduled")
	return nil
}

// Stop halts the scheduler. A run already in flight finishes on its own.
func (c *Coordinator) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.logger.Info().Msg("Embedding backfill stopped")
}

// RunOnce processes one batch of pending chunks. Overlapping runs are
// skipped so a slow gateway never stacks work.
func (c *Coordinator) RunOnce(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("Backfill run already in flight, skipping")
		return
	}
	defer c.running.Store(false)

	chunks, err := c.corpus.GetPendingChunks(c.config.Limit)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to load pending chunks")
		return
	}
	if len(chunks) == 0 {
		return
	}

	c.logger.Info().Int("pending", len(chunks)).Msg("Backfilling chunk embeddings")

	embedded, err := c.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Backfill embedding batch failed")
	}

	saved := 0
	for _, chunk := range chunks {
		if chunk.Pending {
			continue
		}
		if err := c.corpus.SetChunkEmbedding(chunk.ID, chunk.Embedding, chunk.EmbeddingModel); err != nil {
			c.logger.Error().
				Err(err).
				Str("chunk_id", chunk.ID).
				Msg("Failed to persist backfilled embedding")
			continue
		}
		saved++
	}

	c.logger.Info().
		Int("embedded", embedded).
		Int("saved", saved).
		Int("batch", len(chunks)).
		Msg("Backfill run completed")
}
