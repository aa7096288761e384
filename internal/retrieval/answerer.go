package retrieval

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
	"github.com/fyrsmithlabs/ragkb/internal/provider"
)

// DefaultChatModel answers questions unless configured otherwise.
const DefaultChatModel = "gpt-3.5-turbo-16k"

// Answerer runs the final chat completion for a question.
type Answerer struct {
	chat   provider.ChatCompleter
	model  string
	logger *logging.Logger
}

// NewAnswerer creates an answerer using model, or DefaultChatModel when
// model is empty.
func NewAnswerer(chat provider.ChatCompleter, model string, logger *logging.Logger) *Answerer {
	if model == "" {
		model = DefaultChatModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Answerer{chat: chat, model: model, logger: logger}
}

// Answer asks question with systemContext as the system prompt. Calls are
// stateless: answers never see earlier questions and nothing is retained.
// The per-call conversation ID tags the failure log.
func (a *Answerer) Answer(ctx context.Context, question, systemContext string) (string, error) {
	conversationID := uuid.NewString()

	answer, err := a.chat.Complete(ctx, conversationID, question, provider.ChatOptions{
		Model:        a.model,
		SystemPrompt: systemContext,
		Stateless:    true,
	})
	if err != nil {
		a.logger.Error(ctx, "chat completion failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return "", provider.NewProviderError("answer", err)
	}
	return answer, nil
}
