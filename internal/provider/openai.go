package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
)

const (
	// maxHistoryMessages bounds the turns kept per conversation.
	maxHistoryMessages = 20

	// maxConversations bounds the conversations kept; the oldest is
	// evicted first.
	maxConversations = 1024
)

// llmClient is the subset of *openai.LLM the provider uses.
type llmClient interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAI implements Embedder and ChatCompleter over an OpenAI-compatible API.
type OpenAI struct {
	client  llmClient
	config  Config
	limiter *rate.Limiter
	metrics *Metrics
	logger  *logging.Logger

	mu      sync.Mutex
	history map[string][]llms.MessageContent
	order   []string
}

var (
	_ Embedder      = (*OpenAI)(nil)
	_ ChatCompleter = (*OpenAI)(nil)
)

// Option configures an OpenAI provider.
type Option func(*OpenAI)

// WithMeter records call metrics on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *OpenAI) {
		o.metrics = NewMetrics(meter, o.logger)
	}
}

func withClient(c llmClient) Option {
	return func(o *OpenAI) {
		o.client = c
	}
}

// NewOpenAI creates the provider. Local OpenAI-compatible servers that need
// no key are supported by leaving APIKey empty.
func NewOpenAI(cfg Config, logger *logging.Logger, opts ...Option) (*OpenAI, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	o := &OpenAI{
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("provider"),
		history: make(map[string][]llms.MessageContent),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil, o.logger)
	}

	if o.client == nil {
		token := cfg.APIKey
		if token == "" {
			token = "none"
		}
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(token),
			openai.WithModel(cfg.ChatModel),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		)
		if err != nil {
			return nil, NewProviderError("init", err)
		}
		o.client = llm
	}

	return o, nil
}

// Embed returns the vectors the backend produced for text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([][]float32, error) {
	if text == "" {
		return nil, NewProviderError("embed", ErrEmptyInput)
	}

	start := time.Now()
	var vectors [][]float32
	err := o.retry(ctx, "embed", o.config.EmbeddingRetries, func() error {
		var err error
		vectors, err = o.client.CreateEmbedding(ctx, []string{text})
		return err
	})
	o.metrics.Record(ctx, "embed", o.config.EmbeddingModel, time.Since(start), err)
	if err != nil {
		return nil, NewProviderError("embed", err)
	}

	o.logger.Trace(ctx, "embedding created",
		zap.Int("vectors", len(vectors)),
		zap.Int("text_len", len(text)),
	)
	return vectors, nil
}

// Complete sends prompt as the next user turn of conversationID. An empty
// conversationID or opts.Stateless makes a one-off call without history.
func (o *OpenAI) Complete(ctx context.Context, conversationID, prompt string, opts ChatOptions) (string, error) {
	if prompt == "" {
		return "", NewProviderError("chat", ErrEmptyInput)
	}

	model := opts.Model
	if model == "" {
		model = o.config.ChatModel
	}
	retries := o.config.ChatRetries
	if opts.Retries != nil && *opts.Retries >= 0 {
		retries = *opts.Retries
	}

	historyID := conversationID
	if opts.Stateless {
		historyID = ""
	}
	if opts.Restart {
		o.resetHistory(historyID)
	}

	user := llms.TextParts(llms.ChatMessageTypeHuman, prompt)
	messages := make([]llms.MessageContent, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, opts.SystemPrompt))
	}
	messages = append(messages, o.historyFor(historyID)...)
	messages = append(messages, user)

	callOpts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	start := time.Now()
	var answer string
	err := o.retry(ctx, "chat", retries, func() error {
		resp, err := o.client.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		answer = resp.Choices[0].Content
		return nil
	})
	o.metrics.Record(ctx, "chat", model, time.Since(start), err)
	if err != nil {
		return "", NewProviderError("chat", err)
	}

	o.appendHistory(historyID, user, llms.TextParts(llms.ChatMessageTypeAI, answer))
	return answer, nil
}

// Conversations reports how many conversations have history.
func (o *OpenAI) Conversations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.history)
}

func (o *OpenAI) historyFor(id string) []llms.MessageContent {
	if id == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]llms.MessageContent(nil), o.history[id]...)
}

func (o *OpenAI) resetHistory(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.history[id]; !ok {
		return
	}
	delete(o.history, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *OpenAI) appendHistory(id string, turns ...llms.MessageContent) {
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.history[id]
	if !ok {
		o.order = append(o.order, id)
		for len(o.order) > maxConversations {
			delete(o.history, o.order[0])
			o.order = o.order[1:]
		}
	}
	h = append(h, turns...)
	if len(h) > maxHistoryMessages {
		h = h[len(h)-maxHistoryMessages:]
	}
	o.history[id] = h
}

// retry runs fn up to retries+1 times with exponential backoff. Each
// attempt waits on the rate limiter first.
func (o *OpenAI) retry(ctx context.Context, op string, retries int, fn func() error) error {
	var lastErr error
	backoff := o.config.InitialBackoff

	for attempt := 0; attempt <= retries; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				o.logger.Info(ctx, "provider call recovered after retries",
					zap.String("operation", op),
					zap.Int("attempts", attempt+1),
				)
			}
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == retries {
			break
		}

		o.metrics.RecordRetry(ctx, op)
		o.logger.Debug(ctx, "retrying provider call",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", retries),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	if retries > 0 {
		o.logger.Warn(ctx, "provider call failed after all retries",
			zap.String("operation", op),
			zap.Int("retries", retries),
			zap.Error(lastErr),
		)
		return fmt.Errorf("failed after %d retries: %w", retries, lastErr)
	}
	return lastErr
}
