package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/config"
	"github.com/fyrsmithlabs/ragkb/internal/ingest"
	"github.com/fyrsmithlabs/ragkb/internal/kb"
	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
	"github.com/fyrsmithlabs/ragkb/internal/qdrant"
	"github.com/fyrsmithlabs/ragkb/internal/retrieval"
	"github.com/fyrsmithlabs/ragkb/internal/runs"
	"github.com/fyrsmithlabs/ragkb/internal/telemetry"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

const meterPrefix = "github.com/fyrsmithlabs/ragkb/"

// app holds every initialized component. Close releases them in reverse
// order of construction.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     vectorstore.Store
	chat      *provider.OpenAI
	embedder  provider.Embedder
	natsConn  *nats.Conn
	service   *kb.Service
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp initializes dependencies:
//  1. Telemetry, so the logger can bridge into it
//  2. Logger
//  3. Vector store (qdrant or chromem), instrumented
//  4. Chat provider and embedder
//  5. Run registry, publishing to NATS when enabled
//  6. Knowledge-base service
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	lp := tel.LoggerProvider()
	if lp != nil {
		logCfg.Output.OTEL = true
	}
	logger, err := logging.NewLogger(logCfg, lp)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	a.store, err = newStore(cfg.VectorStore, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	providerCfg := provider.FromSettings(cfg.Provider)
	a.chat, err = provider.NewOpenAI(providerCfg, logger,
		provider.WithMeter(tel.Meter(meterPrefix+"internal/provider")))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create chat provider: %w", err)
	}
	a.embedder, err = provider.NewEmbedder(providerCfg, a.chat)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	var pub runs.Publisher
	if cfg.NATS.Enabled {
		a.natsConn, err = runs.Connect(cfg.NATS.URL, logger.Named("nats"))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		pub = a.natsConn
		logger.Info(ctx, "publishing run events", zap.String("url", cfg.NATS.URL))
	}

	a.service, err = kb.NewService(kb.Deps{
		Store:    a.store,
		Embedder: a.embedder,
		Chat:     a.chat,
		Runs:     runs.NewRegistry(pub, logger.Named("runs")),
	}, serviceConfig(cfg), logger.Named("kb"),
		kb.WithTracer(tel.Tracer(meterPrefix+"internal/kb")))
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	logger.Info(ctx, "ragkb initialized",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embedding", cfg.Provider.Embedding),
		zap.String("embedding_model", cfg.Provider.EmbeddingModel),
		zap.String("chat_model", cfg.Provider.ChatModel),
		zap.Bool("nats", a.natsConn != nil),
	)
	return a, nil
}

// newStore builds the configured vector store wrapped with metrics.
func newStore(cfg config.VectorStoreConfig, logger *logging.Logger) (vectorstore.Store, error) {
	switch cfg.Provider {
	case "qdrant":
		client, err := qdrant.NewGRPCClient(qdrant.FromSettings(cfg.Qdrant), logger.Named("qdrant"))
		if err != nil {
			return nil, err
		}
		return vectorstore.Instrument(client, "qdrant"), nil
	case "chromem":
		store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger.Named("chromem"))
		if err != nil {
			return nil, err
		}
		return vectorstore.Instrument(store, "chromem"), nil
	default:
		return nil, fmt.Errorf("unknown vectorstore provider %q", cfg.Provider)
	}
}

func serviceConfig(cfg *config.Config) kb.Config {
	temperature := cfg.Ingest.SummaryTemperature
	retries := cfg.Ingest.SummaryRetries
	threshold := cfg.Retrieval.Threshold
	return kb.Config{
		SoftLimit: cfg.Ingest.SoftLimit,
		Summarizer: ingest.SummarizerConfig{
			MaxTokens:   cfg.Ingest.SummaryMaxTokens,
			Temperature: &temperature,
			Retries:     &retries,
		},
		Retrieval: retrieval.Config{
			Threshold: &threshold,
			Limit:     cfg.Retrieval.Limit,
		},
		ChatModel:         cfg.Provider.ChatModel,
		DefaultCollection: cfg.Retrieval.DefaultCollection,
		DefaultVectorSize: cfg.Retrieval.DefaultVectorSize,
	}
}

// Close releases all resources. Errors are logged, not returned.
func (a *app) Close(ctx context.Context) {
	logger := a.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	var errs []error
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("nats drain: %w", err))
		}
	}
	if c, ok := a.embedder.(provider.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedder: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector store: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	_ = logger.Sync()

	// Last, so the records above still reach the log exporter.
	if err := a.telemetry.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "telemetry shutdown incomplete", zap.Error(err))
		_ = logger.Sync()
	}
}
