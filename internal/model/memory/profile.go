package memory

import "time"

// Profile holds the per-user long-term memory. GlobalMemory is free text,
// only ever appended to or replaced by an explicit commit (insight apply
// or onboarding), never deleted.
type Profile struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	GlobalMemory    string    `json:"globalMemory" db:"global_memory"`
	MemoryUpdatedAt time.Time `json:"memoryUpdatedAt" db:"memory_updated_at"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// Credential stores the login material for the built-in identity provider.
type Credential struct {
	UserID       string `db:"user_id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
}
