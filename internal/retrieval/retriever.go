// Package retrieval assembles search context for a question and asks the
// chat model for an answer.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
	"github.com/fyrsmithlabs/ragkb/internal/vectorstore"
)

// Preamble opens every assembled context.
const Preamble = "You're an AI assistant specialized in answering questions about a preloaded book, " +
	"here are the most relevant fragments pertaining to the user's question: "

const (
	// DefaultThreshold is the score a fragment must strictly exceed.
	DefaultThreshold float32 = 0.75

	// DefaultLimit is the number of search hits considered.
	DefaultLimit uint64 = 5

	logPreviewRunes = 256
)

// Config tunes context assembly.
type Config struct {
	// Threshold is the score a fragment must strictly exceed. Nil takes
	// DefaultThreshold; 0 is a valid setting.
	Threshold *float32
	Limit     uint64
}

// Retriever searches a collection and builds the system context.
type Retriever struct {
	embedder provider.Embedder
	store    vectorstore.Store
	config   Config
	logger   *logging.Logger
}

// NewRetriever creates a retriever. Unset config fields take defaults.
func NewRetriever(embedder provider.Embedder, store vectorstore.Store, cfg Config, logger *logging.Logger) *Retriever {
	if cfg.Threshold == nil {
		threshold := DefaultThreshold
		cfg.Threshold = &threshold
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Retriever{embedder: embedder, store: store, config: cfg, logger: logger}
}

// AnswerContext returns the preamble followed by the relevant fragments
// for question. A failed question embedding is returned as a
// *provider.ProviderError; a failed search degrades to the bare preamble.
func (r *Retriever) AnswerContext(ctx context.Context, question, collection string) (string, error) {
	vector, err := r.embedQuestion(ctx, question)
	if err != nil {
		r.logger.Error(ctx, "no embedding for the question", zap.Error(err))
		return "", err
	}

	hits, err := r.store.SearchPoints(ctx, collection, vectorstore.SearchParams{
		Vector: vector,
		Limit:  r.config.Limit,
	})
	if err != nil {
		r.logger.Error(ctx, "vector search failed, answering without fragments", zap.Error(err))
		return Preamble, nil
	}

	return r.assemble(ctx, hits), nil
}

func (r *Retriever) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	var (
		vectors [][]float32
		err     error
	)
	if qe, ok := r.embedder.(provider.QueryEmbedder); ok {
		vectors, err = qe.EmbedQuery(ctx, question)
	} else {
		vectors, err = r.embedder.Embed(ctx, question)
	}
	if err != nil {
		return nil, &provider.ProviderError{Op: "embed_question", Err: fmt.Errorf("%w: %w", provider.ErrNoEmbedding, err)}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, provider.NewProviderError("embed_question", provider.ErrNoEmbedding)
	}
	return vectors[0], nil
}

// assemble keeps hits in store order, skipping those at or below the
// threshold and those whose text already appears in the context.
func (r *Retriever) assemble(ctx context.Context, hits []vectorstore.ScoredPoint) string {
	var b strings.Builder
	b.WriteString(Preamble)

	for _, h := range hits {
		text := h.Payload.Text
		r.logger.Debug(ctx, "search hit",
			zap.Float32("score", h.Score),
			zap.String("text", preview(text, logPreviewRunes)),
		)
		if h.Score <= *r.config.Threshold {
			continue
		}
		if strings.Contains(b.String(), text) {
			continue
		}
		b.WriteString("\n")
		b.WriteString(text)
	}
	return b.String()
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
