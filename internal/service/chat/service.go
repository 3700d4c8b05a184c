package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	analysis "github.com/klixlabs/klix-backend/internal/analysis/memory"
	"github.com/klixlabs/klix-backend/internal/model/chat"
	memorymodel "github.com/klixlabs/klix-backend/internal/model/memory"
	"github.com/klixlabs/klix-backend/internal/notify"
	"github.com/klixlabs/klix-backend/internal/service/ai"
	"github.com/klixlabs/klix-backend/internal/store"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message is required")
)

// DefaultSessionTitle names sessions created without one.
const DefaultSessionTitle = "New Chat"

// Completer produces the assistant reply for one turn.
type Completer interface {
	GenerateResponse(ctx context.Context, sessionID, systemPrompt string, history []chat.Message, userMessage string) (string, error)
}

// Result is the outcome of one processed chat message. Insights holds only
// the surfaced (confidence > 0.7) insights.
type Result struct {
	UserMessage         chat.Message       `json:"userMessage"`
	AIMessage           chat.Message       `json:"aiMessage"`
	SuggestMemoryUpdate bool               `json:"suggestMemoryUpdate"`
	Insights            []analysis.Insight `json:"insights"`
}

// Service orchestrates conversation state, memory analysis and completion
// calls. Each inbound message is handled by one invocation with no internal
// parallelism; concurrent sends to the same session are not serialized, so
// their turns interleave in store insert order.
type Service struct {
	store     store.Store
	completer Completer
	hub       *notify.Hub
	logger    *log.Logger
}

// NewService wires the orchestrator.
func NewService(st store.Store, completer Completer, hub *notify.Hub, logger *log.Logger) *Service {
	return &Service{
		store:     st,
		completer: completer,
		hub:       hub,
		logger:    logger,
	}
}

// CreateSession provisions a conversation for the user, seeding the
// session-scoped memory from their current global memory.
func (s *Service) CreateSession(ctx context.Context, userID, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultSessionTitle
	}

	var sessionMemory *string
	profile, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		if profile.GlobalMemory != "" {
			m := profile.GlobalMemory
			sessionMemory = &m
		}
	case errors.Is(err, store.ErrNotFound):
		// No profile yet; the session inherits nothing.
	default:
		return chat.Session{}, fmt.Errorf("load profile: %w", err)
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         title,
		SessionMemory: sessionMemory,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns the user's sessions, newest-updated first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Transcript returns a session's messages after checking ownership.
func (s *Service) Transcript(ctx context.Context, userID, sessionID string) ([]chat.Message, error) {
	if _, err := s.store.GetSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return messages, nil
}

// Subscribe opens a turn feed for an owned session.
func (s *Service) Subscribe(ctx context.Context, userID, sessionID string) (<-chan notify.Event, func(), error) {
	if _, err := s.store.GetSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	ch, cancel := s.hub.Subscribe(sessionID)
	return ch, cancel, nil
}

// SendMessage processes one inbound chat message: ownership check, user
// turn persistence, insight analysis, prompt composition, completion call,
// assistant turn persistence, and the memory-update suggestion. The prompt
// is composed from the memory as stored before this analysis; the freshly
// computed insights ride along separately.
func (s *Service) SendMessage(ctx context.Context, userID, sessionID, message, apiKey string) (Result, error) {
	session, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, ErrSessionNotFound
		}
		return Result{}, fmt.Errorf("load session: %w", err)
	}

	message = analysis.Sanitize(message, analysis.DefaultMaxInputLength)
	if message == "" {
		return Result{}, ErrEmptyMessage
	}

	globalMemory := ""
	profile, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		globalMemory = profile.GlobalMemory
	case errors.Is(err, store.ErrNotFound):
	default:
		return Result{}, fmt.Errorf("load profile: %w", err)
	}

	history, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load transcript: %w", err)
	}

	userMsg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return Result{}, fmt.Errorf("save user turn: %w", err)
	}
	s.hub.Publish(sessionID, notify.Event{Type: notify.EventMessage, Message: userMsg})

	insights := analysis.Analyze(toTurns(history, userMsg))
	surfaced := surfacedInsights(insights)

	if len(surfaced) > 0 {
		if err := s.store.SaveInsights(ctx, s.persistedInsights(userID, sessionID, surfaced)); err != nil {
			return Result{}, fmt.Errorf("save insights: %w", err)
		}
	}

	prompt := analysis.ComposePrompt(globalMemory, session.SessionMemory, insights)

	reply, err := s.completer.GenerateResponse(ai.WithCallerAPIKey(ctx, apiKey), sessionID, prompt, history, message)
	if err != nil {
		// The user turn stays persisted; there is no compensating rollback.
		return Result{}, err
	}

	aiMsg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, aiMsg); err != nil {
		return Result{}, fmt.Errorf("save assistant turn: %w", err)
	}
	s.hub.Publish(sessionID, notify.Event{Type: notify.EventMessage, Message: aiMsg})

	if len(history) == 0 && session.Title == DefaultSessionTitle {
		if err := s.store.UpdateSessionTitle(ctx, sessionID, userID, analysis.GenerateTitle(message)); err != nil {
			s.logger.Warn("failed to title session", "session", sessionID, "error", err)
		}
	}
	if err := s.store.TouchSession(ctx, sessionID, aiMsg.CreatedAt); err != nil {
		s.logger.Warn("failed to touch session", "session", sessionID, "error", err)
	}

	return Result{
		UserMessage:         userMsg,
		AIMessage:           aiMsg,
		SuggestMemoryUpdate: analysis.ShouldSuggestUpdate(len(history)+2, insights),
		Insights:            surfaced,
	}, nil
}

func toTurns(history []chat.Message, pending chat.Message) []analysis.Turn {
	turns := make([]analysis.Turn, 0, len(history)+1)
	for _, msg := range history {
		turns = append(turns, analysis.Turn{Role: msg.Role, Content: msg.Content})
	}
	return append(turns, analysis.Turn{Role: pending.Role, Content: pending.Content})
}

func surfacedInsights(insights []analysis.Insight) []analysis.Insight {
	surfaced := make([]analysis.Insight, 0, len(insights))
	for _, ins := range insights {
		if ins.Confidence > analysis.SurfaceThreshold {
			surfaced = append(surfaced, ins)
		}
	}
	return surfaced
}

func (s *Service) persistedInsights(userID, sessionID string, insights []analysis.Insight) []memorymodel.Insight {
	now := time.Now().UTC()
	persisted := make([]memorymodel.Insight, 0, len(insights))
	for _, ins := range insights {
		persisted = append(persisted, memorymodel.Insight{
			ID:              uuid.NewString(),
			UserID:          userID,
			Type:            string(ins.Type),
			Text:            ins.Text,
			Confidence:      ins.Confidence,
			SourceSessionID: sessionID,
			CreatedAt:       now,
		})
	}
	return persisted
}
