package store

import (
	"context"
	"errors"
	"time"

	"github.com/klixlabs/klix-backend/internal/model/chat"
	"github.com/klixlabs/klix-backend/internal/model/memory"
)

var (
	// ErrNotFound covers rows that are absent or not owned by the caller;
	// the two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a uniqueness violation, e.g. duplicate email.
	ErrConflict = errors.New("already exists")
)

// Store is the persistence boundary. All session, message and insight reads
// are scoped to the owning user where an ownership relation exists.
type Store interface {
	CreateProfile(ctx context.Context, profile memory.Profile) error
	GetProfile(ctx context.Context, userID string) (memory.Profile, error)
	UpdateGlobalMemory(ctx context.Context, userID, globalMemory string, updatedAt time.Time) error

	CreateCredential(ctx context.Context, cred memory.Credential) error
	GetCredentialByEmail(ctx context.Context, email string) (memory.Credential, error)
	DeleteCredential(ctx context.Context, userID string) error

	CreateSession(ctx context.Context, session chat.Session) error
	GetSession(ctx context.Context, sessionID, userID string) (chat.Session, error)
	ListSessions(ctx context.Context, userID string) ([]chat.Session, error)
	UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error
	TouchSession(ctx context.Context, sessionID string, updatedAt time.Time) error

	AppendMessage(ctx context.Context, msg chat.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)

	SaveInsights(ctx context.Context, insights []memory.Insight) error
	ListUnappliedInsights(ctx context.Context, userID string, minConfidence float64, limit int) ([]memory.Insight, error)
	GetInsights(ctx context.Context, userID string, ids []string) ([]memory.Insight, error)
	MarkInsightsApplied(ctx context.Context, userID string, ids []string) error
}
