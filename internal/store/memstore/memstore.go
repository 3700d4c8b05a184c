package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klixlabs/klix-backend/internal/model/chat"
	"github.com/klixlabs/klix-backend/internal/model/memory"
	"github.com/klixlabs/klix-backend/internal/store"
)

// Store implements store.Store with mutex-guarded maps. It backs the
// ephemeral deployment mode and the test suites.
type Store struct {
	mu          sync.RWMutex
	profiles    map[string]memory.Profile
	credentials map[string]memory.Credential // keyed by lower-cased email
	sessions    map[string]chat.Session
	messages    map[string][]chat.Message
	insights    map[string][]memory.Insight // keyed by user ID
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		profiles:    make(map[string]memory.Profile),
		credentials: make(map[string]memory.Credential),
		sessions:    make(map[string]chat.Session),
		messages:    make(map[string][]chat.Message),
		insights:    make(map[string][]memory.Insight),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateProfile(_ context.Context, profile memory.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return store.ErrConflict
	}
	s.profiles[profile.ID] = profile
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (memory.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return memory.Profile{}, store.ErrNotFound
	}
	return profile, nil
}

func (s *Store) UpdateGlobalMemory(_ context.Context, userID, globalMemory string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	profile.GlobalMemory = globalMemory
	profile.MemoryUpdatedAt = updatedAt
	s.profiles[userID] = profile
	return nil
}

func (s *Store) CreateCredential(_ context.Context, cred memory.Credential) error {
	key := strings.ToLower(cred.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[key]; ok {
		return store.ErrConflict
	}
	s.credentials[key] = cred
	return nil
}

func (s *Store) GetCredentialByEmail(_ context.Context, email string) (memory.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[strings.ToLower(email)]
	if !ok {
		return memory.Credential{}, store.ErrNotFound
	}
	return cred, nil
}

func (s *Store) DeleteCredential(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cred := range s.credentials {
		if cred.UserID == userID {
			delete(s.credentials, key)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID, userID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return chat.Session{}, store.ErrNotFound
	}
	return session, nil
}

func (s *Store) ListSessions(_ context.Context, userID string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]chat.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (s *Store) UpdateSessionTitle(_ context.Context, sessionID, userID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return store.ErrNotFound
	}
	session.Title = title
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) TouchSession(_ context.Context, sessionID string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	session.UpdatedAt = updatedAt
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) AppendMessage(_ context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[msg.SessionID]; !ok {
		return store.ErrNotFound
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return nil
}

func (s *Store) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *Store) SaveInsights(_ context.Context, insights []memory.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ins := range insights {
		s.insights[ins.UserID] = append(s.insights[ins.UserID], ins)
	}
	return nil
}

func (s *Store) ListUnappliedInsights(_ context.Context, userID string, minConfidence float64, limit int) ([]memory.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]memory.Insight, 0)
	for _, ins := range s.insights[userID] {
		if !ins.Applied && ins.Confidence >= minConfidence {
			matched = append(matched, ins)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) GetInsights(_ context.Context, userID string, ids []string) ([]memory.Insight, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]memory.Insight, 0, len(ids))
	for _, ins := range s.insights[userID] {
		if _, ok := wanted[ins.ID]; ok {
			matched = append(matched, ins)
		}
	}
	return matched, nil
}

func (s *Store) MarkInsightsApplied(_ context.Context, userID string, ids []string) error {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.insights[userID]
	for i := range list {
		if _, ok := wanted[list[i].ID]; ok {
			list[i].Applied = true
		}
	}
	return nil
}
