package store

import (
	"time"

	"github.com/BaSui01/convoflow/types"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "Active"
	SessionClosed   SessionStatus = "Closed"
	SessionArchived SessionStatus = "Archived"
)

// Session is one conversation owned by a user.
type Session struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	User          string        `gorm:"column:user_id;size:255;index:idx_chat_sessions_user_status,priority:1" json:"user"`
	Title         string        `gorm:"size:255" json:"title"`
	Status        SessionStatus `gorm:"size:16;index:idx_chat_sessions_user_status,priority:2" json:"status"`
	Provider      string        `gorm:"size:32" json:"provider"`
	Model         string        `gorm:"size:128" json:"model"`
	TotalMessages int           `json:"total_messages"`
	TotalTokens   int           `json:"total_tokens"`
	EstimatedCost float64       `json:"estimated_cost"`
	StartedAt     time.Time     `json:"started_at"`
	LastActivity  time.Time     `gorm:"index" json:"last_activity"`
}

func (Session) TableName() string { return "chat_sessions" }

// ChatMessage is a persisted conversation turn. Position orders the turns
// of a session in creation order.
type ChatMessage struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string           `gorm:"size:36;index:idx_chat_messages_session_position,priority:1" json:"session_id"`
	Position   int              `gorm:"index:idx_chat_messages_session_position,priority:2" json:"position"`
	Role       types.Role       `gorm:"size:16" json:"role"`
	Content    string           `gorm:"type:text" json:"content"`
	ToolCalls  []types.ToolCall `gorm:"serializer:json;type:text" json:"tool_calls,omitempty"`
	ToolCallID string           `gorm:"size:128" json:"tool_call_id,omitempty"`
	Name       string           `gorm:"size:128" json:"name,omitempty"`
	TokenCount int              `json:"token_count"`
	Timestamp  time.Time        `gorm:"column:sent_at;index" json:"timestamp"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// ToMessage converts the row back into a conversation turn.
func (m ChatMessage) ToMessage() types.Message {
	return types.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Timestamp:  m.Timestamp,
	}
}

// FeedbackType classifies user feedback on an assistant reply.
type FeedbackType string

const (
	FeedbackLike    FeedbackType = "like"
	FeedbackDislike FeedbackType = "dislike"
	FeedbackReport  FeedbackType = "report"
)

// Valid reports whether t is a known feedback type.
func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackLike, FeedbackDislike, FeedbackReport:
		return true
	}
	return false
}

// Feedback is a user's rating of one message.
type Feedback struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	SessionID string       `gorm:"size:36;index" json:"session_id"`
	MessageID string       `gorm:"size:36;index" json:"message_id"`
	User      string       `gorm:"column:user_id;size:255" json:"user"`
	Type      FeedbackType `gorm:"column:feedback_type;size:16" json:"feedback_type"`
	// Rating is 1 to 5, or 0 when not given.
	Rating    int       `json:"rating,omitempty"`
	Comment   string    `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Feedback) TableName() string { return "chat_feedback" }

// FeedbackStats summarises feedback for one session or for all sessions.
type FeedbackStats struct {
	Total         int64   `json:"total"`
	Likes         int64   `json:"likes"`
	Dislikes      int64   `json:"dislikes"`
	Reports       int64   `json:"reports"`
	AverageRating float64 `json:"average_rating"`
}

// UsageReport aggregates one day of traffic.
type UsageReport struct {
	Date          string  `json:"date"`
	Sessions      int64   `json:"sessions"`
	Messages      int64   `json:"messages"`
	Tokens        int64   `json:"tokens"`
	ActiveUsers   int64   `json:"active_users"`
	EstimatedCost float64 `json:"estimated_cost"`
}
