package types

import (
	"encoding/json"
	"time"
)

// ToolSchema is a catalog entry describing a tool the model may call.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the outcome of one tool invocation. A failed invocation
// still produces a result, with Error set and Result holding the marker
// payload {"error":true,"message":...,"tool":...}.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// ToolErrorMarker is the payload carried by a failed ToolResult.
type ToolErrorMarker struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Tool    string `json:"tool"`
}

// NewToolError builds a failed result for the given invocation.
func NewToolError(call ToolCall, message string) ToolResult {
	marker, _ := json.Marshal(ToolErrorMarker{Error: true, Message: message, Tool: call.Name})
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Result:     marker,
		Error:      message,
	}
}

// ToMessage converts ToolResult to a tool-role turn.
func (tr ToolResult) ToMessage() Message {
	content := string(tr.Result)
	if tr.Error != "" {
		content = "Error: " + tr.Error
	}
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       tr.Name,
		ToolCallID: tr.ToolCallID,
		Timestamp:  time.Now(),
	}
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}
