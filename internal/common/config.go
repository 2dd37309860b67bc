package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/lectern-ai/lectern/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment" yaml:"environment"` // "development" or "production"
	Storage     StorageConfig    `toml:"storage" yaml:"storage"`
	Logging     LoggingConfig    `toml:"logging" yaml:"logging"`
	LLM         LLMConfig        `toml:"llm" yaml:"llm"`
	Claude      ClaudeConfig     `toml:"claude" yaml:"claude"`
	Retrieval   RetrievalConfig  `toml:"retrieval" yaml:"retrieval"`
	Chunker     ChunkerConfig    `toml:"chunker" yaml:"chunker"`
	Ingest      IngestConfig     `toml:"ingest" yaml:"ingest"`
	Processing  ProcessingConfig `toml:"processing" yaml:"processing"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" yaml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup" yaml:"reset_on_startup"` // Delete database on startup for clean test runs
	GCInterval     string `toml:"gc_interval" yaml:"gc_interval"`           // Value-log GC interval, e.g. "10m"
}

type LoggingConfig struct {
	Level  string   `toml:"level" yaml:"level"`   // "debug", "info", "warn", "error"
	Output []string `toml:"output" yaml:"output"` // "stdout", "file"
}

// LLMConfig contains Gemini gateway configuration plus provider selection.
type LLMConfig struct {
	Provider          string  `toml:"provider" yaml:"provider" validate:"oneof=gemini claude mock"`
	GoogleAPIKey      string  `toml:"google_api_key" yaml:"google_api_key"`
	EmbedModelName    string  `toml:"embed_model_name" yaml:"embed_model_name"`
	ChatModelName     string  `toml:"chat_model_name" yaml:"chat_model_name"`
	EmbedDimension    int     `toml:"embed_dimension" yaml:"embed_dimension" validate:"gt=0"`
	Temperature       float32 `toml:"temperature" yaml:"temperature"`
	Timeout           string  `toml:"timeout" yaml:"timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"` // Gateway rate limit, 0 = unlimited
}

// ClaudeConfig contains Anthropic gateway configuration.
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key" yaml:"api_key"`
	Model       string  `toml:"model" yaml:"model"`
	MaxTokens   int     `toml:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `toml:"temperature" yaml:"temperature"`
	Timeout     string  `toml:"timeout" yaml:"timeout"`
}

// RetrievalConfig controls multi-corpus similarity retrieval.
type RetrievalConfig struct {
	TopK           int      `toml:"top_k" yaml:"top_k" validate:"gt=0"`
	ScoreThreshold float32  `toml:"score_threshold" yaml:"score_threshold" validate:"gte=0,lte=1"`
	SharedCorpora  []string `toml:"shared_corpora" yaml:"shared_corpora"` // Always queried alongside the session corpus
	QueryTimeout   string   `toml:"query_timeout" yaml:"query_timeout"`
}

// ChunkerConfig controls document segmentation.
type ChunkerConfig struct {
	MaxChunkSize int `toml:"max_chunk_size" yaml:"max_chunk_size" validate:"gt=0"`
	ChunkOverlap int `toml:"chunk_overlap" yaml:"chunk_overlap" validate:"gte=0,ltfield=MaxChunkSize"`
}

// IngestConfig controls the upload pipeline.
type IngestConfig struct {
	MaxUploadBytes    int64    `toml:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
	AllowedExtensions []string `toml:"allowed_extensions" yaml:"allowed_extensions"`
}

// ProcessingConfig controls the scheduled embedding backfill run.
type ProcessingConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Schedule string `toml:"schedule" yaml:"schedule"` // Cron schedule format
	Limit    int    `toml:"limit" yaml:"limit"`       // Max pending chunks per run
}

// NewDefaultConfig returns the built-in defaults. Values mirror what the
// service ships with when no config file is present.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:       "./data/lectern",
				GCInterval: "10m",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		LLM: LLMConfig{
			Provider:          "gemini",
			EmbedModelName:    "gemini-embedding-001",
			ChatModelName:     "gemini-2.0-flash",
			EmbedDimension:    768,
			Temperature:       0.1,
			Timeout:           "60s",
			RequestsPerSecond: 5,
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			Timeout:   "120s",
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			ScoreThreshold: 0.75,
			QueryTimeout:   "30s",
		},
		Chunker: ChunkerConfig{
			MaxChunkSize: 1000,
			ChunkOverlap: 200,
		},
		Ingest: IngestConfig{
			MaxUploadBytes:    10 * 1024 * 1024,
			AllowedExtensions: []string{".txt", ".md", ".markdown", ".csv"},
		},
		Processing: ProcessingConfig{
			Enabled:  true,
			Schedule: "0 */5 * * * *",
			Limit:    100,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files. TOML and YAML files are both accepted, selected by extension.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LECTERN_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("LECTERN_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("LECTERN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if provider := os.Getenv("LECTERN_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.LLM.GoogleAPIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
	if k := os.Getenv("LECTERN_RETRIEVAL_TOP_K"); k != "" {
		if v, err := strconv.Atoi(k); err == nil && v > 0 {
			config.Retrieval.TopK = v
		}
	}
	if t := os.Getenv("LECTERN_SCORE_THRESHOLD"); t != "" {
		if v, err := strconv.ParseFloat(t, 32); err == nil {
			config.Retrieval.ScoreThreshold = float32(v)
		}
	}
}

// Validate checks structural constraints on the resolved configuration.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ParseDurationOr parses a duration string, falling back to def on empty
// or malformed input.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ResolveAPIKey resolves an API key with KV-first ordering: the KV store
// wins over the config fallback so keys rotated at runtime take effect
// without a restart.
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	if kvStorage != nil {
		if value, err := kvStorage.Get(ctx, name); err == nil && value != "" {
			return value, nil
		}
	}
	if configFallback != "" {
		return configFallback, nil
	}
	return "", fmt.Errorf("API key %q not found in KV store or config", name)
}
