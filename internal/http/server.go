// Package http serves the knowledge base over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/kb"
	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/runs"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

// KnowledgeBase is the service the server exposes. *kb.Service implements it.
type KnowledgeBase interface {
	ParseQuery(values url.Values) kb.Request
	Handle(ctx context.Context, req kb.Request, body []byte) kb.Result
	Stats(ctx context.Context, name string) (*vectorstore.CollectionInfo, error)
	Run(runID string) (runs.Event, error)
}

// Server provides HTTP endpoints for ragkb.
type Server struct {
	echo    *echo.Echo
	kb      KnowledgeBase
	pinger  vectorstore.Pinger
	metrics *HTTPMetrics
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// BodyLimit caps request bodies, e.g. "32M".
	BodyLimit string
}

const (
	defaultBodyLimit = "32M"
	healthTimeout    = 2 * time.Second

	// HeaderRunID carries the run ID of a knowledge-base request.
	HeaderRunID = "X-Run-ID"
)

// Option configures a Server.
type Option func(*Server)

// WithPinger reports backend reachability on /health.
func WithPinger(p vectorstore.Pinger) Option {
	return func(s *Server) {
		s.pinger = p
	}
}

// WithMeter records request metrics on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(s *Server) {
		s.metrics = NewHTTPMetrics(meter, s.logger)
	}
}

// NewServer creates a new HTTP server.
func NewServer(svc KnowledgeBase, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("knowledge base cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = defaultBodyLimit
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		kb:     svc,
		logger: logger.Named("http"),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(nil, s.logger)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()

	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	limit := middleware.BodyLimit(s.config.BodyLimit)
	s.echo.POST("/", s.handleKB, limit)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/kb", s.handleKB, limit)
	v1.GET("/collections/:name", s.handleCollection)
	v1.GET("/runs/:id", s.handleRun)
}

// requestContext puts the request ID on the request context and logs the
// request once it completes.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(req.Context(), id)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.pinger == nil {
		return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()
	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn(ctx, "vector store unreachable", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleKB ingests batches or, with ?ask, answers the question in the body.
// The response body is the outcome message or the answer.
func (s *Server) handleKB(c echo.Context) error {
	ctx := c.Request().Context()
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		s.logger.Warn(ctx, "cannot read request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read request body")
	}

	req := s.kb.ParseQuery(c.QueryParams())
	res := s.kb.Handle(ctx, req, body)

	if res.RunID != "" {
		c.Response().Header().Set(HeaderRunID, res.RunID)
	}
	return c.HTML(res.Code, res.Body())
}

func (s *Server) handleCollection(c echo.Context) error {
	ctx := c.Request().Context()
	info, err := s.kb.Stats(ctx, c.Param("name"))
	if err != nil {
		var malformed *kb.MalformedInputError
		switch {
		case errors.As(err, &malformed):
			return echo.NewHTTPError(http.StatusBadRequest, malformed.Error())
		case errors.Is(err, vectorstore.ErrCollectionNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "collection not found")
		}
		s.logger.Error(ctx, "cannot get collection info", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Cannot query database!")
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleRun(c echo.Context) error {
	ev, err := s.kb.Run(c.Param("id"))
	if errors.Is(err, runs.ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ev)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
