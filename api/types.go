package api

import (
	"time"

	"github.com/BaSui01/convoflow/types"
)

// SendMessageRequest is the body of POST /sessions/{id}/messages and
// /sessions/{id}/stream, and of each WebSocket client message.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// Session is the public view of a chat session.
type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	TotalMessages int       `json:"total_messages"`
	TotalTokens   int       `json:"total_tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	StartedAt     time.Time `json:"started_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// Message is one stored turn.
type Message struct {
	ID         string           `json:"id"`
	Role       types.Role       `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []types.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	TokenCount int              `json:"token_count"`
	Timestamp  time.Time        `json:"timestamp"`
}

// MessagePage is a page of GET /sessions/{id}/messages.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// SendMessageResponse is the non-streaming reply.
type SendMessageResponse struct {
	MessageID    string             `json:"message_id"`
	Content      string             `json:"content"`
	ToolCalls    []types.ToolCall   `json:"tool_calls"`
	Usage        types.TokenUsage   `json:"usage"`
	Cost         float64            `json:"cost"`
	FinishReason types.FinishReason `json:"finish_reason"`
	Model        string             `json:"model,omitempty"`
	Rounds       int                `json:"rounds"`
}

// FeedbackRequest rates one assistant message.
type FeedbackRequest struct {
	MessageID string `json:"message_id"`
	Type      string `json:"feedback_type"`
	Rating    int    `json:"rating,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// ToolList is the response of GET /tools.
type ToolList struct {
	Tools []types.ToolSchema `json:"tools"`
	Count int                `json:"count"`
}
