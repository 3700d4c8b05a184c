// Package sqlite persists profiles, sessions, messages and insights in a
// single SQLite database. Row-level ownership is enforced in the queries:
// session and insight lookups always filter by the owning user.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/klixlabs/klix-backend/internal/model/chat"
	"github.com/klixlabs/klix-backend/internal/model/memory"
	"github.com/klixlabs/klix-backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	global_memory TEXT NOT NULL DEFAULT '',
	memory_updated_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	user_id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	session_memory TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);

CREATE TABLE IF NOT EXISTS memory_insights (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	insight_type TEXT NOT NULL,
	insight_text TEXT NOT NULL,
	confidence REAL NOT NULL,
	source_session_id TEXT NOT NULL DEFAULT '',
	applied INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_insights_user_id ON memory_insights(user_id);
`

// Store is a sqlx-backed store.Store implementation.
type Store struct {
	db *sqlx.DB
}

// New opens (or creates) the database at path and bootstraps the schema.
// Use ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)

// Timestamps are stored as RFC3339Nano text; SQLite has no native time type
// and text keeps rows portable across drivers.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

type profileRow struct {
	ID              string `db:"id"`
	Name            string `db:"name"`
	GlobalMemory    string `db:"global_memory"`
	MemoryUpdatedAt string `db:"memory_updated_at"`
	CreatedAt       string `db:"created_at"`
}

func (r profileRow) model() memory.Profile {
	return memory.Profile{
		ID:              r.ID,
		Name:            r.Name,
		GlobalMemory:    r.GlobalMemory,
		MemoryUpdatedAt: decodeTime(r.MemoryUpdatedAt),
		CreatedAt:       decodeTime(r.CreatedAt),
	}
}

func (s *Store) CreateProfile(ctx context.Context, profile memory.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, global_memory, memory_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		profile.ID, profile.Name, profile.GlobalMemory,
		encodeTime(profile.MemoryUpdatedAt), encodeTime(profile.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (memory.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM profiles WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return memory.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return row.model(), nil
}

func (s *Store) UpdateGlobalMemory(ctx context.Context, userID, globalMemory string, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET global_memory = ?, memory_updated_at = ? WHERE id = ?`,
		globalMemory, encodeTime(updatedAt), userID)
	if err != nil {
		return fmt.Errorf("update global memory: %w", err)
	}
	return requireRow(res)
}

func (s *Store) CreateCredential(ctx context.Context, cred memory.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, email, password_hash) VALUES (?, ?, ?)`,
		cred.UserID, cred.Email, cred.PasswordHash)
	if err != nil {
		// UNIQUE violation on email is the only expected failure here.
		return store.ErrConflict
	}
	return nil
}

func (s *Store) GetCredentialByEmail(ctx context.Context, email string) (memory.Credential, error) {
	var cred memory.Credential
	err := s.db.GetContext(ctx, &cred, `SELECT * FROM credentials WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return memory.Credential{}, fmt.Errorf("select credential: %w", err)
	}
	return cred, nil
}

func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireRow(res)
}

type sessionRow struct {
	ID            string  `db:"id"`
	UserID        string  `db:"user_id"`
	Title         string  `db:"title"`
	SessionMemory *string `db:"session_memory"`
	CreatedAt     string  `db:"created_at"`
	UpdatedAt     string  `db:"updated_at"`
}

func (r sessionRow) model() chat.Session {
	return chat.Session{
		ID:            r.ID,
		UserID:        r.UserID,
		Title:         r.Title,
		SessionMemory: r.SessionMemory,
		CreatedAt:     decodeTime(r.CreatedAt),
		UpdatedAt:     decodeTime(r.UpdatedAt),
	}
}

func (s *Store) CreateSession(ctx context.Context, session chat.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, title, session_memory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Title, session.SessionMemory,
		encodeTime(session.CreatedAt), encodeTime(session.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID, userID string) (chat.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, store.ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("select session: %w", err)
	}
	return row.model(), nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	sessions := make([]chat.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.model())
	}
	return sessions, nil
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ? WHERE id = ? AND user_id = ?`,
		title, sessionID, userID)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	return requireRow(res)
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE id = ?`,
		encodeTime(updatedAt), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireRow(res)
}

type messageRow struct {
	ID        string `db:"id"`
	SessionID string `db:"session_id"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	CreatedAt string `db:"created_at"`
}

func (r messageRow) model() chat.Message {
	return chat.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      r.Role,
		Content:   r.Content,
		CreatedAt: decodeTime(r.CreatedAt),
	}
}

func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, encodeTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	messages := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.model())
	}
	return messages, nil
}

type insightRow struct {
	ID              string  `db:"id"`
	UserID          string  `db:"user_id"`
	InsightType     string  `db:"insight_type"`
	InsightText     string  `db:"insight_text"`
	Confidence      float64 `db:"confidence"`
	SourceSessionID string  `db:"source_session_id"`
	Applied         bool    `db:"applied"`
	CreatedAt       string  `db:"created_at"`
}

func (r insightRow) model() memory.Insight {
	return memory.Insight{
		ID:              r.ID,
		UserID:          r.UserID,
		Type:            r.InsightType,
		Text:            r.InsightText,
		Confidence:      r.Confidence,
		SourceSessionID: r.SourceSessionID,
		Applied:         r.Applied,
		CreatedAt:       decodeTime(r.CreatedAt),
	}
}

func (s *Store) SaveInsights(ctx context.Context, insights []memory.Insight) error {
	for _, ins := range insights {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memory_insights
				(id, user_id, insight_type, insight_text, confidence, source_session_id, applied, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ins.ID, ins.UserID, ins.Type, ins.Text, ins.Confidence,
			ins.SourceSessionID, ins.Applied, encodeTime(ins.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}
	}
	return nil
}

func (s *Store) ListUnappliedInsights(ctx context.Context, userID string, minConfidence float64, limit int) ([]memory.Insight, error) {
	if limit <= 0 {
		limit = -1 // SQLite reads LIMIT -1 as "no limit"
	}
	var rows []insightRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM memory_insights
		WHERE user_id = ? AND applied = 0 AND confidence >= ?
		ORDER BY created_at DESC LIMIT ?`,
		userID, minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("select unapplied insights: %w", err)
	}
	insights := make([]memory.Insight, 0, len(rows))
	for _, row := range rows {
		insights = append(insights, row.model())
	}
	return insights, nil
}

func (s *Store) GetInsights(ctx context.Context, userID string, ids []string) ([]memory.Insight, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT * FROM memory_insights WHERE user_id = ? AND id IN (?)`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("build insight query: %w", err)
	}
	var rows []insightRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select insights: %w", err)
	}
	insights := make([]memory.Insight, 0, len(rows))
	for _, row := range rows {
		insights = append(insights, row.model())
	}
	return insights, nil
}

func (s *Store) MarkInsightsApplied(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE memory_insights SET applied = 1 WHERE user_id = ? AND id IN (?)`, userID, ids)
	if err != nil {
		return fmt.Errorf("build insight update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("mark insights applied: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}
