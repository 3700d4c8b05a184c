// Package auth is the built-in identity provider: bcrypt credentials in
// the store, opaque bearer tokens held in memory. It stands in for an
// external auth service and keeps the same observable contract.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/klixlabs/klix-backend/internal/model/memory"
	"github.com/klixlabs/klix-backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrUnauthenticated    = errors.New("authentication required")
)

// ValidationError reports a rejected registration or login field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const minPasswordLength = 8

// Service issues and validates bearer tokens.
type Service struct {
	store  store.Store
	logger *log.Logger

	mu     sync.RWMutex
	tokens map[string]string // token -> user ID
}

// NewService wires the provider against the persistence store.
func NewService(st store.Store, logger *log.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger,
		tokens: make(map[string]string),
	}
}

// Register creates a credential and its profile. The credential is rolled
// back if the profile insert fails, so a half-created account never blocks
// the email address.
func (s *Service) Register(ctx context.Context, name, email, password string) (string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))

	if name == "" || email == "" || password == "" {
		return "", &ValidationError{Message: "all fields are required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", &ValidationError{Message: "invalid email address"}
	}
	if len(password) < minPasswordLength {
		return "", &ValidationError{Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	userID := uuid.NewString()
	if err := s.store.CreateCredential(ctx, memory.Credential{
		UserID:       userID,
		Email:        email,
		PasswordHash: string(hash),
	}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("create credential: %w", err)
	}

	now := time.Now().UTC()
	if err := s.store.CreateProfile(ctx, memory.Profile{
		ID:              userID,
		Name:            name,
		MemoryUpdatedAt: now,
		CreatedAt:       now,
	}); err != nil {
		if rbErr := s.store.DeleteCredential(ctx, userID); rbErr != nil {
			s.logger.Error("failed to roll back credential", "user", userID, "error", rbErr)
		}
		return "", fmt.Errorf("create profile: %w", err)
	}

	s.logger.Info("registered user", "user", userID)
	return userID, nil
}

// Login verifies the password and mints a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (token, userID string, err error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", "", &ValidationError{Message: "email and password are required"}
	}

	cred, err := s.store.GetCredentialByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", ErrInvalidCredentials
	}
	if err != nil {
		return "", "", fmt.Errorf("load credential: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}

	token = uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = cred.UserID
	s.mu.Unlock()

	return token, cred.UserID, nil
}

// Logout revokes a token. Unknown tokens are a no-op.
func (s *Service) Logout(_ context.Context, token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	s.mu.RLock()
	userID, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return "", ErrUnauthenticated
	}
	return userID, nil
}
