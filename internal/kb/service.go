// Package kb runs knowledge-base requests: ingesting batches of text into a
// collection and answering questions from it.
package kb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/collection"
	"github.com/fyrsmithlabs/ragkb/internal/ingest"
	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
	"github.com/fyrsmithlabs/ragkb/internal/retrieval"
	"github.com/fyrsmithlabs/ragkb/internal/runs"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/ragkb/internal/kb"

// Deps are the collaborators a Service needs.
type Deps struct {
	Store    vectorstore.Store
	Embedder provider.Embedder
	Chat     provider.ChatCompleter

	// Runs records run events. Nil keeps runs in memory only.
	Runs *runs.Registry
}

// Config tunes a Service. Zero fields take defaults.
type Config struct {
	SoftLimit  int
	Summarizer ingest.SummarizerConfig
	Retrieval  retrieval.Config
	ChatModel  string

	DefaultCollection string
	DefaultVectorSize uint64
}

// Service runs ingestion and question answering.
type Service struct {
	manager      *collection.Manager
	summarizer   *ingest.Summarizer
	orchestrator *ingest.Orchestrator
	retriever    *retrieval.Retriever
	answerer     *retrieval.Answerer
	runs         *runs.Registry

	config Config
	logger *logging.Logger
	tracer trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithTracer traces runs with tracer instead of the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// NewService wires the pipeline components over deps.
func NewService(deps Deps, cfg Config, logger *logging.Logger, opts ...Option) (*Service, error) {
	if deps.Store == nil || deps.Embedder == nil || deps.Chat == nil {
		return nil, errors.New("kb: store, embedder and chat are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.SoftLimit == 0 {
		cfg.SoftLimit = ingest.SoftLimit
	}
	if cfg.DefaultCollection == "" {
		cfg.DefaultCollection = DefaultCollection
	}
	if cfg.DefaultVectorSize == 0 {
		cfg.DefaultVectorSize = DefaultVectorSize
	}
	registry := deps.Runs
	if registry == nil {
		registry = runs.NewRegistry(nil, logger)
	}

	s := &Service{
		manager:      collection.NewManager(deps.Store, logger.Named("collection")),
		summarizer:   ingest.NewSummarizer(deps.Chat, cfg.Summarizer, logger.Named("summarizer")),
		orchestrator: ingest.NewOrchestrator(deps.Embedder, logger.Named("ingest")),
		retriever:    retrieval.NewRetriever(deps.Embedder, deps.Store, cfg.Retrieval, logger.Named("retrieval")),
		answerer:     retrieval.NewAnswerer(deps.Chat, cfg.ChatModel, logger.Named("answer")),
		runs:         registry,
		config:       cfg,
		logger:       logger,
		tracer:       otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParseQuery reads request parameters with the service's defaults.
func (s *Service) ParseQuery(values url.Values) Request {
	return ParseQueryWithDefaults(values, s.config.DefaultCollection, s.config.DefaultVectorSize)
}

// Handle dispatches on req.Ask: the body is a UTF-8 question when set and
// JSON batches otherwise.
func (s *Service) Handle(ctx context.Context, req Request, body []byte) Result {
	if err := vectorstore.ValidateCollectionName(req.Collection); err != nil {
		return malformed(&MalformedInputError{Reason: "collection_name", Err: err})
	}

	if req.Ask {
		if !utf8.Valid(body) {
			return malformed(&MalformedInputError{Reason: "question is not valid UTF-8"})
		}
		return s.Ask(ctx, req, string(body))
	}

	batches, err := ParseBatches(body)
	if err != nil {
		s.logger.Warn(ctx, "rejecting malformed body",
			zap.String("collection", req.Collection),
			zap.Error(err),
		)
		return malformed(err)
	}
	return s.Ingest(ctx, req, batches)
}

// Ingest embeds batches into req.Collection. Point IDs continue from the
// collection's current count, or start at 0 when req.Reset is set.
func (s *Service) Ingest(ctx context.Context, req Request, batches [][]string) Result {
	runID := s.runs.Create(ctx, runs.KindIngest, req.Collection)
	ctx = logging.WithRunID(logging.WithCollection(ctx, req.Collection), runID)

	ctx, span := s.tracer.Start(ctx, "kb.ingest", trace.WithAttributes(
		attribute.String("collection", req.Collection),
		attribute.String("run.id", runID),
		attribute.Bool("reset", req.Reset),
	))
	defer span.End()

	startID, err := s.manager.EstablishStartID(ctx, req.Collection, req.VectorSize, req.Reset)
	if err != nil {
		msg := msgCannotQuery
		if req.Reset {
			msg = msgCannotCreate
		}
		return s.fail(ctx, span, runID, http.StatusBadGateway, msg, err)
	}
	s.publish(ctx, s.runs.Started(runID, startID))

	units := flatten(batches)
	dropped := 0
	if ingest.AnyExceeds(units, s.config.SoftLimit) {
		s.logger.Info(ctx, "oversized unit in batch, summarizing all units",
			zap.Int("units", len(units)),
			zap.Int("soft_limit", s.config.SoftLimit),
		)
		units, dropped = s.summarizer.SummarizeAll(ctx, units)
	}

	out := s.orchestrator.Embed(ctx, units, startID)
	if err := s.manager.Upsert(ctx, req.Collection, out.Points); err != nil {
		return s.fail(ctx, span, runID, http.StatusBadGateway, msgCannotUpsert, err)
	}

	total, err := s.manager.Stats(ctx, req.Collection)
	if err != nil {
		return s.fail(ctx, span, runID, http.StatusBadGateway, msgCannotUpsert, err)
	}

	failedUnits := out.Failed + dropped
	s.logger.Info(ctx, "ingestion completed",
		zap.Int("inserted", out.Count),
		zap.Int("failed_units", failedUnits),
		zap.Uint64("total", total),
	)
	span.SetAttributes(
		attribute.Int("inserted", out.Count),
		attribute.Int("failed_units", failedUnits),
	)
	s.publish(ctx, s.runs.Completed(runID, out.Count, failedUnits, total))

	return Result{
		Status:   StatusOK,
		Code:     http.StatusOK,
		Message:  fmt.Sprintf(msgInserted, out.Count, total),
		Inserted: out.Count,
		Failed:   failedUnits,
		Total:    total,
		RunID:    runID,
	}
}

// Ask answers question from the fragments stored in req.Collection.
func (s *Service) Ask(ctx context.Context, req Request, question string) Result {
	if strings.TrimSpace(question) == "" {
		return malformed(&MalformedInputError{Reason: "empty question"})
	}

	runID := s.runs.Create(ctx, runs.KindAsk, req.Collection)
	ctx = logging.WithRunID(logging.WithCollection(ctx, req.Collection), runID)

	ctx, span := s.tracer.Start(ctx, "kb.ask", trace.WithAttributes(
		attribute.String("collection", req.Collection),
		attribute.String("run.id", runID),
	))
	defer span.End()

	s.publish(ctx, s.runs.Started(runID, 0))

	systemContext, err := s.retriever.AnswerContext(ctx, question, req.Collection)
	if err != nil {
		return s.fail(ctx, span, runID, http.StatusBadGateway, msgNoEmbedding, err)
	}

	answer, err := s.answerer.Answer(ctx, question, systemContext)
	if err != nil {
		return s.fail(ctx, span, runID, http.StatusBadGateway, msgNoAnswer, err)
	}

	s.publish(ctx, s.runs.Completed(runID, 0, 0, 0))
	return Result{
		Status:  StatusOK,
		Code:    http.StatusOK,
		Message: answer,
		Answer:  answer,
		RunID:   runID,
	}
}

// Stats returns the collection's size and dimensionality.
func (s *Service) Stats(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return nil, &MalformedInputError{Reason: "collection_name", Err: err}
	}
	return s.manager.Info(ctx, name)
}

// Run returns the state of a run started by this service.
func (s *Service) Run(runID string) (runs.Event, error) {
	return s.runs.Get(runID)
}

func (s *Service) fail(ctx context.Context, span trace.Span, runID string, code int, msg string, err error) Result {
	s.logger.Error(ctx, msg, zap.Error(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.publish(ctx, s.runs.Failed(runID, err))
	return failed(code, runID, msg)
}

// publish logs run-event delivery failures; they never fail the run.
func (s *Service) publish(ctx context.Context, err error) {
	if err != nil {
		s.logger.Warn(ctx, "run event not published", zap.Error(err))
	}
}
