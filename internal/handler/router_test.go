package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	chatmodel "github.com/klixlabs/klix-backend/internal/model/chat"
	"github.com/klixlabs/klix-backend/internal/notify"
	authservice "github.com/klixlabs/klix-backend/internal/service/auth"
	chatservice "github.com/klixlabs/klix-backend/internal/service/chat"
	memoryservice "github.com/klixlabs/klix-backend/internal/service/memory"
	"github.com/klixlabs/klix-backend/internal/store/memstore"
)

type echoCompleter struct{}

func (echoCompleter) GenerateResponse(_ context.Context, _, _ string, _ []chatmodel.Message, userMessage string) (string, error) {
	return "echo: " + userMessage, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	st := memstore.New()
	logger := log.New(io.Discard)
	authSvc := authservice.NewService(st, logger)
	chatSvc := chatservice.NewService(st, echoCompleter{}, notify.NewHub(), logger)
	memorySvc := memoryservice.NewService(st, logger)
	return NewRouter(authSvc, chatSvc, memorySvc, logger)
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func registerAndLogin(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     "Riko",
		"email":    "riko@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "riko@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &login)
	if login.Token == "" {
		t.Fatal("login returned no token")
	}
	return login.Token
}

func createSession(t *testing.T, router http.Handler, token, title string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/sessions", token, map[string]string{"title": title})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var session struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &session)
	if session.ID == "" {
		t.Fatal("create session returned no id")
	}
	return session.ID
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/sessions", "/api/memory/global", "/api/memory/insights"} {
		rec := doJSON(t, router, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}

	rec := doJSON(t, router, http.MethodPost, "/api/chat", "stale-token", map[string]string{
		"sessionId": "s", "message": "m", "apiKey": "k",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Riko", "email": "not-an-email", "password": "correct-horse",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Riko", "email": "riko@example.com", "password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", rec.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	router := newTestRouter(t)
	registerAndLogin(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Other", "email": "RIKO@example.com", "password": "another-pass",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	if !strings.Contains(body.Error, "already exists") {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	router := newTestRouter(t)
	registerAndLogin(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "riko@example.com", "password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/sessions", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rec.Code)
	}
}

func TestChatFlow(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router)
	sessionID := createSession(t, router, token, "")

	rec := doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]string{
		"sessionId": sessionID,
		"message":   "I love hiking on weekends.",
		"apiKey":    "caller-key",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d body %s", rec.Code, rec.Body.String())
	}

	var result struct {
		UserMessage struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"userMessage"`
		AIMessage struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"aiMessage"`
		SuggestMemoryUpdate bool `json:"suggestMemoryUpdate"`
		Insights            []struct {
			Type       string  `json:"type"`
			Confidence float64 `json:"confidence"`
		} `json:"insights"`
	}
	decodeBody(t, rec, &result)
	if result.UserMessage.Role != "user" || result.AIMessage.Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", result)
	}
	if result.AIMessage.Content != "echo: I love hiking on weekends." {
		t.Fatalf("unexpected reply: %q", result.AIMessage.Content)
	}
	for _, ins := range result.Insights {
		if ins.Confidence <= 0.7 {
			t.Fatalf("expected only surfaced insights in the response, got %+v", ins)
		}
	}

	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+sessionID+"/messages", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript: status %d", rec.Code)
	}
	var transcript struct {
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	decodeBody(t, rec, &transcript)
	if len(transcript.Messages) != 2 {
		t.Fatalf("expected both turns in transcript, got %d", len(transcript.Messages))
	}
}

func TestChatValidation(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router)
	sessionID := createSession(t, router, token, "")

	cases := []map[string]string{
		{"message": "hi", "apiKey": "k"},
		{"sessionId": sessionID, "apiKey": "k"},
		{"sessionId": sessionID, "message": "hi"},
	}
	for _, payload := range cases {
		rec := doJSON(t, router, http.MethodPost, "/api/chat", token, payload)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %v: expected 400, got %d", payload, rec.Code)
		}
	}
}

func TestChatUnknownSession(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]string{
		"sessionId": "no-such-session", "message": "hi", "apiKey": "k",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSessionListOrderingAndOwnership(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router)
	first := createSession(t, router, token, "First")
	second := createSession(t, router, token, "Second")

	// Chatting in the first session bumps its updated-at past the second's.
	rec := doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]string{
		"sessionId": first, "message": "bump this session", "apiKey": "k",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/sessions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions: status %d", rec.Code)
	}
	var list struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	decodeBody(t, rec, &list)
	if len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list.Sessions))
	}
	if list.Sessions[0].ID != first || list.Sessions[1].ID != second {
		t.Fatalf("expected newest-updated first, got %+v", list.Sessions)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/sessions/"+first+"/messages", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/memory/global", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get memory: status %d body %s", rec.Code, rec.Body.String())
	}
	var memory struct {
		GlobalMemory string `json:"globalMemory"`
	}
	decodeBody(t, rec, &memory)
	if memory.GlobalMemory != "" {
		t.Fatalf("expected empty initial memory, got %q", memory.GlobalMemory)
	}

	rec = doJSON(t, router, http.MethodPut, "/api/memory/global", token, map[string]string{
		"globalMemory": "prefers walking tours",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put memory: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/memory/global", token, nil)
	decodeBody(t, rec, &memory)
	if memory.GlobalMemory != "prefers walking tours" {
		t.Fatalf("expected updated memory, got %q", memory.GlobalMemory)
	}

	rec = doJSON(t, router, http.MethodPut, "/api/memory/global", token, map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing globalMemory, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/memory/insights", token, map[string]any{
		"insightIds": []string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty insightIds, got %d", rec.Code)
	}
}

func TestInsightReviewFlow(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router)
	sessionID := createSession(t, router, token, "")

	// A short message yields a surfaced communication-style insight.
	rec := doJSON(t, router, http.MethodPost, "/api/chat", token, map[string]string{
		"sessionId": sessionID, "message": "hey", "apiKey": "k",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/memory/insights", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list insights: status %d", rec.Code)
	}
	var pending struct {
		Insights []struct {
			ID   string `json:"id"`
			Text string `json:"insightText"`
		} `json:"insights"`
	}
	decodeBody(t, rec, &pending)
	if len(pending.Insights) == 0 {
		t.Fatal("expected at least one pending insight")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/memory/insights", token, map[string]any{
		"insightIds":    []string{pending.Insights[0].ID},
		"applyToMemory": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("apply insights: status %d body %s", rec.Code, rec.Body.String())
	}

	var memory struct {
		GlobalMemory string `json:"globalMemory"`
	}
	rec = doJSON(t, router, http.MethodGet, "/api/memory/global", token, nil)
	decodeBody(t, rec, &memory)
	if !strings.Contains(memory.GlobalMemory, "Recently learned:\n- "+pending.Insights[0].Text) {
		t.Fatalf("expected insight committed to memory, got %q", memory.GlobalMemory)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/memory/insights", token, nil)
	decodeBody(t, rec, &pending)
	if len(pending.Insights) != 0 {
		t.Fatalf("expected no pending insights after review, got %+v", pending.Insights)
	}
}
