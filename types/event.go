package types

import "time"

// FinishReason explains why the model stopped producing output.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// ModelResponse is the terminal artifact of one adapter call, and of a
// whole orchestration turn once usage and cost have been aggregated.
type ModelResponse struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        TokenUsage   `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
	Model        string       `json:"model,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Cost         float64      `json:"cost"`
}

// EventKind tags a StreamEvent.
type EventKind string

const (
	EventAck        EventKind = "user_message"
	EventContent    EventKind = "content"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
	EventError      EventKind = "error"
)

// Terminal reports whether no event may follow one of this kind.
func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventError
}

// Ack confirms that the inbound user message was stored.
type Ack struct {
	ID        string    `json:"name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamEvent is one step of a turn's progress. The payload field matching
// Kind is set. A failed event may also carry Final with partial content.
// Terminal events carry in Turns the assistant and tool turns the caller
// should persist.
type StreamEvent struct {
	Kind       EventKind
	Ack        *Ack
	Delta      string
	ToolCall   *ToolCall
	ToolResult *ToolResult
	Final      *ModelResponse
	Err        *Error
	Turns      []Message
}

// ContentDelta builds a content event.
func ContentDelta(text string) StreamEvent {
	return StreamEvent{Kind: EventContent, Delta: text}
}

// ToolCallStarted builds a tool_call event.
func ToolCallStarted(call ToolCall) StreamEvent {
	return StreamEvent{Kind: EventToolCall, ToolCall: &call}
}

// ToolCallFinished builds a tool_result event.
func ToolCallFinished(result ToolResult) StreamEvent {
	return StreamEvent{Kind: EventToolResult, ToolResult: &result}
}

// Done builds the terminal success event.
func Done(final ModelResponse) StreamEvent {
	return StreamEvent{Kind: EventDone, Final: &final}
}

// Failed builds the terminal error event.
func Failed(err *Error) StreamEvent {
	return StreamEvent{Kind: EventError, Err: err}
}

// Acknowledged builds the inbound-message acknowledgement event.
func Acknowledged(ack Ack) StreamEvent {
	return StreamEvent{Kind: EventAck, Ack: &ack}
}
