// Package notify fans newly persisted turns out to open session streams.
// It is an optional collaborator: the chat flow persists and returns turns
// synchronously whether or not anyone is listening.
package notify

import (
	"sync"

	"github.com/klixlabs/klix-backend/internal/model/chat"
)

// Event announces one persisted turn.
type Event struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// EventMessage is the only event type currently published.
const EventMessage = "message"

// Hub routes events to per-session subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for a session's events. The returned
// cancel func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the session. Slow
// consumers with a full buffer miss the event rather than block the
// chat request.
func (h *Hub) Publish(sessionID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
