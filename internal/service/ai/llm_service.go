package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/klixlabs/klix-backend/internal/model/chat"
	"github.com/klixlabs/klix-backend/internal/provider/gemini"
)

// historyLimit bounds the context window sent to the completion provider.
const historyLimit = 10

// UpstreamError marks a completion-call failure. The user turn already
// persisted stays in place; the caller surfaces the message and the human
// resends if they want a reply.
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "completion endpoint failed"
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Service runs completions through a prompt-template + chat-model chain.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *log.Logger
}

// NewService compiles the chat chain around the provided model.
func NewService(ctx context.Context, chatModel model.ChatModel, logger *log.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		logger:    logger,
	}, nil
}

// WithCallerAPIKey threads a per-request completion key into the context
// for providers that accept caller keys.
func WithCallerAPIKey(ctx context.Context, key string) context.Context {
	return gemini.WithAPIKey(ctx, key)
}

// CallerAPIKey reads back the per-request key, if any.
func CallerAPIKey(ctx context.Context) string {
	return gemini.APIKeyFrom(ctx)
}

// GenerateResponse produces the assistant reply for one chat turn. Any
// failure is an UpstreamError; there is no retry.
func (s *Service) GenerateResponse(ctx context.Context, sessionID, systemPrompt string, history []chat.Message, userMessage string) (string, error) {
	input := map[string]any{
		"system":  systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", wrapUpstream(err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", &UpstreamError{Message: "completion response contained no text"}
	}

	s.logger.Debug("generated response", "session", sessionID, "length", len(response.Content))
	return response.Content, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}

func wrapUpstream(err error) error {
	var upstream *gemini.UpstreamError
	if errors.As(err, &upstream) {
		return &UpstreamError{Message: upstream.Message, Err: err}
	}
	return &UpstreamError{Err: err}
}
