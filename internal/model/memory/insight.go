package memory

import "time"

// Insight is the persisted form of an analysis insight. Applied flips
// false→true exactly once, on commit or dismissal, and never reverts.
type Insight struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"userId" db:"user_id"`
	Type            string    `json:"insightType" db:"insight_type"`
	Text            string    `json:"insightText" db:"insight_text"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	SourceSessionID string    `json:"sourceSessionId" db:"source_session_id"`
	Applied         bool      `json:"applied" db:"applied"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}
