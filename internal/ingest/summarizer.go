package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
)

const summaryInstruction = "Extract the essence of the following text into one concise factual paragraph. " +
	"Keep names, numbers and definitions; leave out commentary."

// SummarizerConfig tunes the summary call.
type SummarizerConfig struct {
	MaxTokens int

	// Temperature and Retries take defaults when nil; 0 is a valid value
	// for both.
	Temperature *float64

	// Retries is the summary call's own retry budget.
	Retries *int
}

// DefaultSummarizerConfig returns 256 tokens, temperature 0.7, one retry.
func DefaultSummarizerConfig() SummarizerConfig {
	temperature, retries := 0.7, 1
	return SummarizerConfig{MaxTokens: 256, Temperature: &temperature, Retries: &retries}
}

// Summarizer condenses oversized units with one chat call each.
type Summarizer struct {
	chat   provider.ChatCompleter
	config SummarizerConfig
	logger *logging.Logger
}

// NewSummarizer creates a summarizer. Unset config fields take defaults.
func NewSummarizer(chat provider.ChatCompleter, cfg SummarizerConfig, logger *logging.Logger) *Summarizer {
	d := DefaultSummarizerConfig()
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.Temperature == nil {
		cfg.Temperature = d.Temperature
	}
	if cfg.Retries == nil {
		cfg.Retries = d.Retries
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Summarizer{chat: chat, config: cfg, logger: logger}
}

// Summarize returns a one-paragraph summary of unit, or "" when the
// provider fails.
func (s *Summarizer) Summarize(ctx context.Context, unit string) string {
	summary, err := s.chat.Complete(ctx, "", unit, provider.ChatOptions{
		SystemPrompt: summaryInstruction,
		Temperature:  *s.config.Temperature,
		MaxTokens:    s.config.MaxTokens,
		Retries:      s.config.Retries,
		Stateless:    true,
	})
	if err != nil {
		s.logger.Warn(ctx, "summarization failed, dropping unit",
			zap.Int("unit_len", len(unit)),
			zap.Error(err),
		)
		return ""
	}
	return summary
}

// SummarizeAll summarizes every unit in order. Empty summaries are left
// out and counted in dropped.
func (s *Summarizer) SummarizeAll(ctx context.Context, units []string) (summaries []string, dropped int) {
	summaries = make([]string, 0, len(units))
	for _, u := range units {
		sum := s.Summarize(ctx, u)
		if sum == "" {
			dropped++
			continue
		}
		summaries = append(summaries, sum)
	}
	if dropped > 0 {
		s.logger.Info(ctx, "units dropped during summarization",
			zap.Int("dropped", dropped),
			zap.Int("total", len(units)),
		)
	}
	return summaries, dropped
}
