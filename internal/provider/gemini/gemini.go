// Package gemini implements the eino chat-model interface on top of the
// Google generative-language REST API. Generation parameters are fixed by
// the product contract and not user-configurable.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// DefaultBaseURL is the hosted generative-language endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is the completion model used when none is configured.
	DefaultModel = "gemini-pro"

	temperature     = 0.9
	maxOutputTokens = 2048
	topP            = 0.95
	topK            = 40
)

// UpstreamError carries the provider's failure message through to the
// boundary. A failed completion call is terminal; there is no retry.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("completion endpoint returned status %d", e.StatusCode)
}

type apiKeyContextKey struct{}

// WithAPIKey attaches a caller-supplied API key to the context. The chat
// endpoint lets each user bring their own key; it takes precedence over
// any server-configured key.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFrom returns the caller-supplied key, or "" when none is attached.
func APIKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey{}).(string)
	return key
}

// Config describes the Gemini connection.
type Config struct {
	BaseURL string
	Model   string
	// APIKey is the optional server-side fallback key.
	APIKey  string
	Timeout time.Duration
}

// ChatModel speaks the generateContent wire format. It satisfies the eino
// model.ChatModel interface so it can terminate a prompt-template chain.
type ChatModel struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewChatModel builds a Gemini-backed chat model.
func NewChatModel(cfg Config) *ChatModel {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatModel{
		baseURL: baseURL,
		model:   modelName,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ model.ChatModel = (*ChatModel)(nil)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs a single blocking completion call.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	key := APIKeyFrom(ctx)
	if key == "" {
		key = m.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("gemini api key is not configured")
	}

	payload, err := json.Marshal(generateRequest{
		Contents: buildContents(input),
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
			TopP:            topP,
			TopK:            topK,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		m.baseURL, m.model, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "malformed completion response"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: msg}
	}

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "completion response contained no candidates"}
	}

	return schema.AssistantMessage(decoded.Candidates[0].Content.Parts[0].Text, nil), nil
}

// Stream satisfies the eino interface; the provider call itself is not
// streamed, so the full message is delivered as a single chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	sr, sw := schema.Pipe[*schema.Message](1)
	sw.Send(msg, nil)
	sw.Close()
	return sr, nil
}

// BindTools is unsupported; the chat flow never binds tools.
func (m *ChatModel) BindTools([]*schema.ToolInfo) error {
	return fmt.Errorf("gemini provider does not support tool binding")
}

// buildContents maps chain messages onto the wire format. The system
// instruction and the pending user query are folded into one leading user
// turn ("<system>\n\nUser: <query>"); intermediate history follows with
// roles user/model.
func buildContents(input []*schema.Message) []content {
	var system string
	rest := make([]*schema.Message, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		if msg.Role == schema.System {
			system = msg.Content
			continue
		}
		rest = append(rest, msg)
	}

	var query string
	if n := len(rest); n > 0 && rest[n-1].Role == schema.User {
		query = rest[n-1].Content
		rest = rest[:n-1]
	}

	contents := make([]content, 0, len(rest)+1)
	switch {
	case system != "":
		contents = append(contents, content{
			Role:  "user",
			Parts: []part{{Text: system + "\n\nUser: " + query}},
		})
	case query != "":
		contents = append(contents, content{Role: "user", Parts: []part{{Text: query}}})
	}

	for _, msg := range rest {
		role := "user"
		if msg.Role == schema.Assistant {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: msg.Content}}})
	}

	return contents
}
