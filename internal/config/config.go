// Package config provides configuration loading for ragkb.
//
// Values come from built-in defaults, an optional YAML file and RAGKB_*
// environment variables, in increasing order of precedence. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ragkb configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Provider    ProviderConfig    `koanf:"provider"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	NATS        NATSConfig        `koanf:"nats"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
}

// LoggingConfig holds the subset of logger settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "qdrant" (default) or "chromem".
	Provider string        `koanf:"provider"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
	Chromem  ChromemConfig `koanf:"chromem"`
}

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	RetryAttempts  int      `koanf:"retry_attempts"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the store in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// ProviderConfig configures the embedding and chat provider.
type ProviderConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`

	// Embedding is "openai" (default) or "fastembed".
	Embedding      string `koanf:"embedding"`
	EmbeddingModel string `koanf:"embedding_model"`
	ChatModel      string `koanf:"chat_model"`
	CacheDir       string `koanf:"cache_dir"`

	EmbeddingRetries int      `koanf:"embedding_retries"`
	ChatRetries      int      `koanf:"chat_retries"`
	RateLimit        float64  `koanf:"rate_limit"`
	Burst            int      `koanf:"burst"`
	Timeout          Duration `koanf:"timeout"`
}

// IngestConfig tunes the chunk guard and summarizer.
type IngestConfig struct {
	SoftLimit          int     `koanf:"soft_limit"`
	SummaryMaxTokens   int     `koanf:"summary_max_tokens"`
	SummaryTemperature float64 `koanf:"summary_temperature"`
	SummaryRetries     int     `koanf:"summary_retries"`
}

// RetrievalConfig tunes context assembly and request defaults.
type RetrievalConfig struct {
	Threshold         float32 `koanf:"threshold"`
	Limit             uint64  `koanf:"limit"`
	DefaultCollection string  `koanf:"default_collection"`
	DefaultVectorSize uint64  `koanf:"default_vector_size"`
}

// NATSConfig configures run-event publishing.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// Default returns a Config populated with defaults.
//
// Fields where zero is a meaningful setting are only defaulted here; the
// loader decodes onto this value, so an explicit 0 in a file or the
// environment survives.
func Default() *Config {
	cfg := &Config{}
	cfg.Provider.EmbeddingRetries = 3
	cfg.Provider.ChatRetries = 3
	cfg.Ingest.SummaryTemperature = 0.7
	cfg.Ingest.SummaryRetries = 1
	cfg.Retrieval.Threshold = 0.75
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields whose
// zero value is never valid.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "32M"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ragkb"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "qdrant"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.RetryAttempts == 0 {
		cfg.VectorStore.Qdrant.RetryAttempts = 3
	}
	if cfg.VectorStore.Qdrant.RequestTimeout == 0 {
		cfg.VectorStore.Qdrant.RequestTimeout = Duration(30 * time.Second)
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Provider.Embedding == "" {
		cfg.Provider.Embedding = "openai"
	}
	if cfg.Provider.EmbeddingModel == "" {
		cfg.Provider.EmbeddingModel = "text-embedding-ada-002"
		if cfg.Provider.Embedding == "fastembed" {
			cfg.Provider.EmbeddingModel = "BAAI/bge-small-en-v1.5"
		}
	}
	if cfg.Provider.ChatModel == "" {
		cfg.Provider.ChatModel = "gpt-3.5-turbo-16k"
	}
	if cfg.Provider.RateLimit == 0 {
		cfg.Provider.RateLimit = 10
	}
	if cfg.Provider.Burst == 0 {
		cfg.Provider.Burst = 5
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = Duration(60 * time.Second)
	}

	if cfg.Ingest.SoftLimit == 0 {
		cfg.Ingest.SoftLimit = 20000
	}
	if cfg.Ingest.SummaryMaxTokens == 0 {
		cfg.Ingest.SummaryMaxTokens = 256
	}

	if cfg.Retrieval.Limit == 0 {
		cfg.Retrieval.Limit = 5
	}
	if cfg.Retrieval.DefaultCollection == "" {
		cfg.Retrieval.DefaultCollection = "my_kb"
	}
	if cfg.Retrieval.DefaultVectorSize == 0 {
		cfg.Retrieval.DefaultVectorSize = 1536
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.VectorStore.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unknown vectorstore provider %q (want qdrant or chromem)", c.VectorStore.Provider)
	}
	if c.VectorStore.Provider == "qdrant" {
		if c.VectorStore.Qdrant.Port < 1 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", c.VectorStore.Qdrant.Port)
		}
	}

	switch c.Provider.Embedding {
	case "openai", "fastembed":
	default:
		return fmt.Errorf("unknown embedding provider %q (want openai or fastembed)", c.Provider.Embedding)
	}
	if c.Provider.RateLimit < 0 {
		return errors.New("provider rate limit cannot be negative")
	}

	if c.Ingest.SoftLimit <= 0 {
		return fmt.Errorf("ingest soft limit must be positive, got %d", c.Ingest.SoftLimit)
	}
	if c.Ingest.SummaryTemperature < 0 || c.Ingest.SummaryTemperature > 2 {
		return fmt.Errorf("summary temperature must be between 0 and 2, got %f", c.Ingest.SummaryTemperature)
	}
	if c.Ingest.SummaryRetries < 0 {
		return fmt.Errorf("summary retries cannot be negative, got %d", c.Ingest.SummaryRetries)
	}

	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval threshold must be between -1 and 1, got %f", c.Retrieval.Threshold)
	}
	if c.Retrieval.Limit == 0 {
		return errors.New("retrieval limit must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}

	return nil
}
