package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/convoflow/types"
)

func decodeAll(t *testing.T, r io.Reader) []types.StreamEvent {
	t.Helper()
	dec := NewDecoder(r)
	var out []types.StreamEvent
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		ev, err := f.Event()
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestEncoder_FrameFormat(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(types.ContentDelta("Hello")))
	assert.Equal(t, "event: content\ndata: {\"content\":\"Hello\"}\n\n", buf.String())
}

func TestEncoder_ClosesAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(types.Done(types.ModelResponse{Content: "ok", FinishReason: types.FinishStop})))
	assert.True(t, enc.Closed())
	assert.ErrorIs(t, enc.Encode(types.ContentDelta("late")), ErrStreamClosed)
	assert.ErrorIs(t, enc.Encode(types.Failed(types.NewError(types.ErrInternalError, "late"))), ErrStreamClosed)
	assert.Equal(t, 1, strings.Count(buf.String(), "event: "))
}

func TestEncoder_FlushesEveryFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec)
	enc := NewEncoder(rec)

	require.NoError(t, enc.Encode(types.ContentDelta("a")))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestEncoder_Payloads(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	events := []types.StreamEvent{
		types.Acknowledged(types.Ack{ID: "msg-1", Content: "Hi", Timestamp: now}),
		types.ContentDelta("line one\nline \"two\""),
		types.ToolCallStarted(types.ToolCall{ID: "c1", Name: "weather", Arguments: json.RawMessage(`{"city":"Paris"}`)}),
		types.ToolCallFinished(types.NewToolError(types.ToolCall{ID: "c1", Name: "weather"}, "boom")),
		types.Done(types.ModelResponse{
			Content:      "Sunny",
			ToolCalls:    []types.ToolCall{{ID: "c1", Name: "weather", Arguments: json.RawMessage(`{"city":"Paris"}`)}},
			Usage:        types.TokenUsage{InputTokens: 10, OutputTokens: 2},
			Cost:         0.5,
			FinishReason: types.FinishStop,
			Model:        "gpt-4o",
		}),
	}
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}

	got := decodeAll(t, &buf)
	require.Len(t, got, len(events))
	assert.Equal(t, "msg-1", got[0].Ack.ID)
	assert.True(t, now.Equal(got[0].Ack.Timestamp))
	assert.Equal(t, "line one\nline \"two\"", got[1].Delta)
	assert.Equal(t, "weather", got[2].ToolCall.Name)
	assert.JSONEq(t, `{"city":"Paris"}`, string(got[2].ToolCall.Arguments))
	assert.Equal(t, "boom", got[3].ToolResult.Error)
	assert.Equal(t, "weather", got[3].ToolResult.Name)
	assert.Equal(t, "Sunny", got[4].Final.Content)
	assert.Equal(t, 0.5, got[4].Final.Cost)
	assert.Equal(t, types.TokenUsage{InputTokens: 10, OutputTokens: 2}, got[4].Final.Usage)
}

func TestEncoder_ErrorFrameCarriesPartial(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	ev := types.Failed(types.NewError(types.ErrToolLoopLimit, "too many rounds").WithAction(types.ActionRetry))
	ev.Final = &types.ModelResponse{Content: "partial"}
	require.NoError(t, enc.Encode(ev))

	assert.Contains(t, buf.String(), "event: error\n")
	got := decodeAll(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, types.ErrToolLoopLimit, got[0].Err.Code)
	assert.Equal(t, types.ActionRetry, got[0].Err.Action)
	assert.Equal(t, "partial", got[0].Final.Content)
}

func TestEncoder_RejectsIncompleteEvent(t *testing.T) {
	enc := NewEncoder(io.Discard)
	assert.Error(t, enc.Encode(types.StreamEvent{Kind: types.EventToolCall}))
	assert.Error(t, enc.Encode(types.StreamEvent{Kind: "bogus"}))
	assert.False(t, enc.Closed())
}

func TestDecoder_TruncatedFrame(t *testing.T) {
	dec := NewDecoder(strings.NewReader("event: content\ndata: {\"content\":\"x\"}\n"))
	_, err := dec.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoder_SkipsComments(t *testing.T) {
	dec := NewDecoder(strings.NewReader(": keepalive\n\nevent: content\ndata: {\"content\":\"x\"}\n\n"))
	f, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "content", f.Type)
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMarshalEnvelope(t *testing.T) {
	data, err := MarshalEnvelope(types.ContentDelta("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"content","data":{"content":"hi"}}`, string(data))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client went away") }

func TestPipe_CancelsOnWriteError(t *testing.T) {
	events := make(chan types.StreamEvent, 2)
	events <- types.ContentDelta("a")
	events <- types.ContentDelta("b")
	close(events)

	cancelled := false
	err := Pipe(events, NewEncoder(failingWriter{}), func() { cancelled = true })
	require.Error(t, err)
	assert.True(t, cancelled)
}

func TestPipe_ObserversSeeEveryEvent(t *testing.T) {
	events := make(chan types.StreamEvent, 3)
	events <- types.ContentDelta("a")
	events <- types.ContentDelta("b")
	events <- types.Done(types.ModelResponse{Content: "ab"})
	close(events)

	var seen []types.EventKind
	var buf bytes.Buffer
	require.NoError(t, Pipe(events, NewEncoder(&buf), nil, func(ev types.StreamEvent) {
		seen = append(seen, ev.Kind)
	}))
	assert.Equal(t, []types.EventKind{types.EventContent, types.EventContent, types.EventDone}, seen)
}

func TestProperty_EncodeDecodePreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("frames decode in emission order and nothing follows the terminal frame", prop.ForAll(
		func(deltas []string, toolNames []string, fail bool) bool {
			var buf bytes.Buffer
			enc := NewEncoder(&buf)

			var sent []types.StreamEvent
			for i, d := range deltas {
				sent = append(sent, types.ContentDelta(d))
				if i < len(toolNames) {
					call := types.ToolCall{ID: toolNames[i] + "-id", Name: toolNames[i], Arguments: json.RawMessage(`{}`)}
					sent = append(sent, types.ToolCallStarted(call),
						types.ToolCallFinished(types.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: json.RawMessage(`{"ok":true}`)}))
				}
			}
			if fail {
				sent = append(sent, types.Failed(types.NewError(types.ErrUpstreamTimeout, "timeout")))
			} else {
				sent = append(sent, types.Done(types.ModelResponse{Content: strings.Join(deltas, "")}))
			}
			for _, ev := range sent {
				if err := enc.Encode(ev); err != nil {
					return false
				}
			}
			if !errors.Is(enc.Encode(types.ContentDelta("late")), ErrStreamClosed) {
				return false
			}

			dec := NewDecoder(&buf)
			for i := 0; ; i++ {
				f, err := dec.Next()
				if errors.Is(err, io.EOF) {
					return i == len(sent)
				}
				if err != nil || i >= len(sent) {
					return false
				}
				ev, err := f.Event()
				if err != nil || ev.Kind != sent[i].Kind || ev.Delta != sent[i].Delta {
					return false
				}
				if ev.ToolCall != nil && ev.ToolCall.ID != sent[i].ToolCall.ID {
					return false
				}
				if ev.ToolResult != nil && ev.ToolResult.ToolCallID != sent[i].ToolResult.ToolCallID {
					return false
				}
			}
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Identifier()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
