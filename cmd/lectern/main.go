package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/lectern-ai/lectern/internal/app"
	"github.com/lectern-ai/lectern/internal/common"
	"github.com/lectern-ai/lectern/internal/models"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	ingestPath   = flag.String("ingest", "", "Ingest a document and exit (path to .txt/.md/.csv file)")
	ingestCorpus = flag.String("corpus", "", "Corpus tag for -ingest")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Lectern version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence: config, logger, banner, application
	if len(configFiles) == 0 {
		if _, err := os.Stat("lectern.toml"); err == nil {
			configFiles = append(configFiles, "lectern.toml")
		} else if _, err := os.Stat("deployments/local/lectern.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/lectern.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Str("provider", config.LLM.Provider).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	// One-shot ingest mode
	if *ingestPath != "" {
		if err := runIngest(application, *ingestPath, *ingestCorpus); err != nil {
			logger.Fatal().Err(err).Str("path", *ingestPath).Msg("Ingest failed")
			os.Exit(1)
		}
		return
	}

	logger.Info().Msg("Lectern ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")
}

// runIngest loads one document from disk into the given corpus.
func runIngest(application *app.App, path, corpusTag string) error {
	if corpusTag == "" {
		return fmt.Errorf("-corpus is required with -ingest")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	result, err := application.Ingest.Ingest(context.Background(), models.UploadDocument{
		Filename:  filepath.Base(path),
		Content:   content,
		CorpusTag: corpusTag,
	})
	if err != nil {
		return err
	}

	application.Logger.Info().
		Str("corpus", result.CorpusTag).
		Int("chunks", result.ChunksTotal).
		Int("embedded", result.ChunksEmbedded).
		Int("pending", result.ChunksPending).
		Msg("Document ingested")
	return nil
}
