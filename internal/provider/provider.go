package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragkb/internal/config"
)

// Embedder turns one text into zero or more vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([][]float32, error)
}

// QueryEmbedder is implemented by embedders that treat search queries
// differently from stored passages.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([][]float32, error)
}

// ChatCompleter runs one chat completion turn in a conversation.
type ChatCompleter interface {
	Complete(ctx context.Context, conversationID, prompt string, opts ChatOptions) (string, error)
}

// ChatOptions tunes a single completion.
type ChatOptions struct {
	// Model overrides the configured chat model when set.
	Model string

	SystemPrompt string
	Temperature  float64

	// MaxTokens bounds the generated tokens. Zero leaves it to the backend.
	MaxTokens int

	// Restart drops any history kept for the conversation before the turn.
	Restart bool

	// Stateless sends the turn without reading or recording history. The
	// conversation ID then only tags logs.
	Stateless bool

	// Retries overrides the configured chat retry budget when set. Zero
	// makes a single attempt.
	Retries *int
}

// Config configures the provider clients.
type Config struct {
	BaseURL string
	APIKey  string

	// Embedding selects the embedder: "openai" or "fastembed".
	Embedding      string
	EmbeddingModel string
	ChatModel      string
	CacheDir       string

	EmbeddingRetries int
	ChatRetries      int

	// RateLimit is requests per second across all calls. Zero disables it.
	RateLimit float64
	Burst     int

	Timeout        time.Duration
	InitialBackoff time.Duration
}

// DefaultConfig returns settings for the public OpenAI API.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://api.openai.com/v1",
		Embedding:        "openai",
		EmbeddingModel:   "text-embedding-ada-002",
		ChatModel:        "gpt-3.5-turbo-16k",
		EmbeddingRetries: 3,
		ChatRetries:      3,
		RateLimit:        10,
		Burst:            5,
		Timeout:          60 * time.Second,
		InitialBackoff:   500 * time.Millisecond,
	}
}

// FromSettings maps the provider section of the application config.
func FromSettings(s config.ProviderConfig) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = s.BaseURL
	cfg.APIKey = s.APIKey.Value()
	cfg.Embedding = s.Embedding
	cfg.EmbeddingModel = s.EmbeddingModel
	cfg.ChatModel = s.ChatModel
	cfg.CacheDir = s.CacheDir
	cfg.EmbeddingRetries = s.EmbeddingRetries
	cfg.ChatRetries = s.ChatRetries
	cfg.RateLimit = s.RateLimit
	cfg.Burst = s.Burst
	cfg.Timeout = s.Timeout.Duration()
	return cfg
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.ChatModel == "" {
		return fmt.Errorf("%w: chat model required", ErrInvalidConfig)
	}
	if c.EmbeddingRetries < 0 || c.ChatRetries < 0 {
		return fmt.Errorf("%w: retries cannot be negative", ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// NewEmbedder builds the embedder selected by cfg.Embedding. The OpenAI
// client passed in is reused for the "openai" case.
func NewEmbedder(cfg Config, chat *OpenAI) (Embedder, error) {
	switch cfg.Embedding {
	case "openai", "":
		if chat == nil {
			return nil, fmt.Errorf("%w: openai embedder needs a client", ErrInvalidConfig)
		}
		return chat, nil
	case "fastembed":
		fe, err := NewFastEmbed(FastEmbedConfig{
			Model:    cfg.EmbeddingModel,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return fe, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, cfg.Embedding)
	}
}

// Closer is implemented by embedders holding native resources.
type Closer interface {
	Close() error
}

