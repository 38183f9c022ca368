package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is one model-requested tool invocation. ID correlates the call
// with its result and must be unique within a turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsMap decodes Arguments into a key/value map. Empty arguments
// decode to an empty map.
func (c ToolCall) ArgumentsMap() (map[string]any, error) {
	out := map[string]any{}
	if len(c.Arguments) == 0 || string(c.Arguments) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(c.Arguments, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Message is one conversation turn. Turns are treated as immutable once
// created; use the With* helpers, which return copies.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}

// WithToolCalls returns a copy of the message carrying calls.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = append([]ToolCall(nil), calls...)
	return m
}

// HasToolCalls reports whether an assistant turn requested tools.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}
