// Package config provides configuration loading for memoryd.
//
// Configuration is read from a YAML file and overridden by MEMORYD_-prefixed
// environment variables. Sections mirror the daemon's subsystems; zero values
// for tuning knobs are filled either here or by the owning package's
// ApplyDefaults, so a missing file yields a fully working local setup.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete memoryd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Project       ProjectConfig       `koanf:"project"`
	Store         StoreConfig         `koanf:"store"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Consolidator  ConsolidatorConfig  `koanf:"consolidator"`
	LongTerm      LongTermConfig      `koanf:"longterm"`
	Indexer       IndexerConfig       `koanf:"indexer"`
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects log level and output format for the daemon logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"` // OTLP endpoint, e.g. localhost:4317
	Protocol        string `koanf:"protocol"` // grpc or http
	Insecure        bool   `koanf:"insecure"`
}

// ProjectConfig holds project detection configuration.
type ProjectConfig struct {
	// Path is the project root to detect identity from. Empty means the
	// daemon's working directory.
	Path string `koanf:"path"`
}

// StoreConfig holds chunking and cache configuration for the context store.
type StoreConfig struct {
	ChunkSize        int           `koanf:"chunk_size"`
	ChunkOverlap     int           `koanf:"chunk_overlap"`
	CacheEnabled     bool          `koanf:"cache_enabled"`
	CacheMaxBytes    int64         `koanf:"cache_max_bytes"`
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // chromem (default), qdrant, noop
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem backend.
type ChromemConfig struct {
	Path           string `koanf:"path"`
	Compress       bool   `koanf:"compress"`
	AddConcurrency int    `koanf:"add_concurrency"`
}

// QdrantConfig configures the remote Qdrant backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"` // gRPC port (6334), not the REST port
	APIKey     Secret `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	VectorSize uint64 `koanf:"vector_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string  `koanf:"provider"` // fastembed (default), tei, hash
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"` // tei provider only
	APIKey            Secret  `koanf:"api_key"`  // tei provider only
	CacheDir          string  `koanf:"cache_dir"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// SecretsConfig configures secret scrubbing.
type SecretsConfig struct {
	// UserAllowlistPath points at a user-level gitleaks allowlist file.
	// Project-level allowlists are found in the detected project root.
	UserAllowlistPath string `koanf:"user_allowlist_path"`
}

// ConsolidatorConfig configures the background consolidation worker.
type ConsolidatorConfig struct {
	Interval     time.Duration `koanf:"interval"`
	QueueLimit   int           `koanf:"queue_limit"`
	HistoryLimit int           `koanf:"history_limit"`
}

// LongTermConfig configures long-term memory management.
type LongTermConfig struct {
	// ConsolidationThreshold is the pattern frequency at which a pattern
	// graduates into long-term memory.
	ConsolidationThreshold int `koanf:"consolidation_threshold"`
}

// IndexerConfig configures project indexing.
type IndexerConfig struct {
	// Enabled runs a batch index of the project at daemon startup.
	Enabled         bool     `koanf:"enabled"`
	Concurrency     int      `koanf:"concurrency"`
	MaxFileSize     int64    `koanf:"max_file_size"`
	IncludePatterns []string `koanf:"include_patterns"`
	ExcludePatterns []string `koanf:"exclude_patterns"`

	// Watch keeps a filesystem watcher running after the batch index and
	// re-indexes files as they change.
	Watch bool `koanf:"watch"`
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty (when telemetry is enabled)
//   - A provider or enum field names an unknown value
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if p := c.Observability.Protocol; p != "grpc" && p != "http" {
			return fmt.Errorf("invalid observability protocol: %q (must be grpc or http)", p)
		}
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "noop":
	default:
		return fmt.Errorf("invalid vectorstore provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.Provider == "qdrant" {
		if c.VectorStore.Qdrant.Host == "" {
			return errors.New("qdrant host required when provider is qdrant")
		}
		if p := c.VectorStore.Qdrant.Port; p < 1 || p > 65535 {
			return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", p)
		}
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei", "hash":
	default:
		return fmt.Errorf("invalid embeddings provider: %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "tei" && c.Embeddings.BaseURL == "" {
		return errors.New("embeddings base_url required when provider is tei")
	}

	return nil
}
