package chat

import "time"

// Session is one conversation owned by a user. SessionMemory, when set,
// overrides the owner's global memory for prompts built in this session;
// nil means "inherit global memory".
type Session struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"userId" db:"user_id"`
	Title         string    `json:"title" db:"title"`
	SessionMemory *string   `json:"sessionMemory" db:"session_memory"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}
