package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/convoflow/types"
)

// ContentPayload is the data of a content frame.
type ContentPayload struct {
	Content string `json:"content"`
}

// ToolCallPayload is the data of a tool_call frame.
type ToolCallPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultPayload is the data of a tool_result frame.
type ToolResultPayload struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
}

// DonePayload is the data of a done frame.
type DonePayload struct {
	Content      string             `json:"content"`
	ToolCalls    []types.ToolCall   `json:"tool_calls"`
	Usage        types.TokenUsage   `json:"usage"`
	Cost         float64            `json:"cost"`
	FinishReason types.FinishReason `json:"finish_reason"`
	Model        string             `json:"model,omitempty"`
}

// ErrorPayload is the data of an error frame. Content carries the partial
// answer when one exists.
type ErrorPayload struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Action  string          `json:"action,omitempty"`
	Content string          `json:"content,omitempty"`
}

// Envelope wraps a payload with its type tag for message-oriented
// transports.
type Envelope struct {
	Type types.EventKind `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Payload returns the wire payload of ev.
func Payload(ev types.StreamEvent) (any, error) {
	switch ev.Kind {
	case types.EventAck:
		if ev.Ack == nil {
			return nil, fmt.Errorf("%s event without ack", ev.Kind)
		}
		return ev.Ack, nil
	case types.EventContent:
		return ContentPayload{Content: ev.Delta}, nil
	case types.EventToolCall:
		if ev.ToolCall == nil {
			return nil, fmt.Errorf("%s event without call", ev.Kind)
		}
		return ToolCallPayload{ID: ev.ToolCall.ID, Name: ev.ToolCall.Name, Arguments: objectOrEmpty(ev.ToolCall.Arguments)}, nil
	case types.EventToolResult:
		if ev.ToolResult == nil {
			return nil, fmt.Errorf("%s event without result", ev.Kind)
		}
		r := ev.ToolResult
		return ToolResultPayload{ToolCallID: r.ToolCallID, ToolName: r.Name, Result: r.Result, Error: r.Error}, nil
	case types.EventDone:
		if ev.Final == nil {
			return nil, fmt.Errorf("%s event without response", ev.Kind)
		}
		f := ev.Final
		calls := f.ToolCalls
		if calls == nil {
			calls = []types.ToolCall{}
		}
		return DonePayload{
			Content:      f.Content,
			ToolCalls:    calls,
			Usage:        f.Usage,
			Cost:         f.Cost,
			FinishReason: f.FinishReason,
			Model:        f.Model,
		}, nil
	case types.EventError:
		if ev.Err == nil {
			return nil, fmt.Errorf("%s event without error", ev.Kind)
		}
		p := ErrorPayload{Code: ev.Err.Code, Message: ev.Err.Message, Action: ev.Err.Action}
		if ev.Final != nil {
			p.Content = ev.Final.Content
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// MarshalEnvelope encodes ev as {"type":...,"data":...}.
func MarshalEnvelope(ev types.StreamEvent) ([]byte, error) {
	p, err := Payload(ev)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
	}
	return json.Marshal(Envelope{Type: ev.Kind, Data: data})
}

// Event rebuilds a StreamEvent from a decoded frame. Fields the wire does
// not carry, such as persisted turns, are left empty.
func (f Frame) Event() (types.StreamEvent, error) {
	kind := types.EventKind(f.Type)
	switch kind {
	case types.EventAck:
		var ack types.Ack
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			return types.StreamEvent{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return types.Acknowledged(ack), nil
	case types.EventContent:
		var p ContentPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return types.StreamEvent{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return types.ContentDelta(p.Content), nil
	case types.EventToolCall:
		var p ToolCallPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return types.StreamEvent{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return types.ToolCallStarted(types.ToolCall{ID: p.ID, Name: p.Name, Arguments: p.Arguments}), nil
	case types.EventToolResult:
		var p ToolResultPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return types.StreamEvent{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return types.ToolCallFinished(types.ToolResult{ToolCallID: p.ToolCallID, Name: p.ToolName, Result: p.Result, Error: p.Error}), nil
	case types.EventDone:
		var p DonePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return types.StreamEvent{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return types.Done(types.ModelResponse{
			Content:      p.Content,
			ToolCalls:    p.ToolCalls,
			Usage:        p.Usage,
			Cost:         p.Cost,
			FinishReason: p.FinishReason,
			Model:        p.Model,
		}), nil
	case types.EventError:
		var p ErrorPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return types.StreamEvent{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		ev := types.Failed(types.NewError(p.Code, p.Message).WithAction(p.Action))
		if p.Content != "" {
			ev.Final = &types.ModelResponse{Content: p.Content}
		}
		return ev, nil
	default:
		return types.StreamEvent{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}

func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
