package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/interfaces"
	"github.com/lectern-ai/lectern/internal/services/chat"
	"github.com/lectern-ai/lectern/internal/services/chunker"
	"github.com/lectern-ai/lectern/internal/services/embeddings"
	"github.com/lectern-ai/lectern/internal/services/generation"
	"github.com/lectern-ai/lectern/internal/services/index"
	"github.com/lectern-ai/lectern/internal/services/ingest"
	"github.com/lectern-ai/lectern/internal/services/llm"
	"github.com/lectern-ai/lectern/internal/services/prompt"
	"github.com/lectern-ai/lectern/internal/services/retrieval"
	"github.com/lectern-ai/lectern/internal/storage/badger"
)

// App owns the service graph. Construction order follows the dependency
// chain: storage, LLM gateway, embeddings, index, retrieval, generation,
// then the orchestrating chat and ingest services.
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage interfaces.StorageManager

	LLM         interfaces.LLMService
	Embedder    interfaces.EmbeddingService
	Index       interfaces.CorpusIndex
	Retriever   interfaces.Retriever
	Chat        *chat.Service
	Ingest      *ingest.Service
	Coordinator *embeddings.Coordinator
}

// New builds the application from resolved configuration.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storageManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	llmService, err := llm.NewLLMService(config, storageManager.KeyValueStorage(), logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	embedder := embeddings.NewService(llmService, config.LLM.EmbedModelName, config.LLM.RequestsPerSecond, logger)
	corpusIndex := index.NewService(storageManager.CorpusStorage(), logger)
	retriever := retrieval.NewAggregator(embedder, corpusIndex, &config.Retrieval, logger)
	assembler := prompt.NewAssembler(logger)
	generator := generation.NewService(llmService, config.LLM.RequestsPerSecond, logger)

	splitter, err := chunker.NewService(config.Chunker.MaxChunkSize, config.Chunker.ChunkOverlap, logger)
	if err != nil {
		llmService.Close()
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	chatService := chat.NewService(
		storageManager.SessionStorage(),
		storageManager.UserStorage(),
		retriever,
		corpusIndex,
		assembler,
		generator,
		&config.Retrieval,
		logger,
	)

	ingestService := ingest.NewService(splitter, embedder, corpusIndex, &config.Ingest, logger)

	coordinator := embeddings.NewCoordinator(storageManager.CorpusStorage(), embedder, &config.Processing, logger)
	if err := coordinator.Start(); err != nil {
		llmService.Close()
		storageManager.Close()
		return nil, fmt.Errorf("failed to start embedding backfill: %w", err)
	}

	logger.Info().
		Str("provider", config.LLM.Provider).
		Str("badger_path", config.Storage.Badger.Path).
		Msg("Application initialized")

	return &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		LLM:         llmService,
		Embedder:    embedder,
		Index:       corpusIndex,
		Retriever:   retriever,
		Chat:        chatService,
		Ingest:      ingestService,
		Coordinator: coordinator,
	}, nil
}

// Close shuts the application down in reverse dependency order.
func (a *App) Close() {
	if a.Coordinator != nil {
		a.Coordinator.Stop()
	}
	if a.LLM != nil {
		if err := a.LLM.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("LLM service close failed")
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	}
	a.Logger.Info().Msg("Application stopped")
}
