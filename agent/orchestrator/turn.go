package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/llm"
	llmcontext "github.com/BaSui01/convoflow/llm/context"
	"github.com/BaSui01/convoflow/llm/providers"
	"github.com/BaSui01/convoflow/llm/retry"
	"github.com/BaSui01/convoflow/types"
)

// run is the state of a single turn. It is owned by one goroutine.
type run struct {
	o        *Orchestrator
	turn     Turn
	emit     func(types.StreamEvent) bool // nil when not streaming
	terminal func(types.StreamEvent)
	logger   *zap.Logger

	state    State
	start    time.Time
	rounds   int
	usage    types.TokenUsage
	executed []types.ToolCall
	turns    []types.Message
	partial  string
	provider string
	model    string
}

func (o *Orchestrator) newRun(turn Turn, emit func(types.StreamEvent) bool, terminal func(types.StreamEvent)) *run {
	return &run{
		o:        o,
		turn:     turn,
		emit:     emit,
		terminal: terminal,
		logger:   o.logger.With(zap.String("session_id", turn.SessionID)),
		state:    StateIdle,
		start:    time.Now(),
		provider: o.adapter.Name(),
		model:    o.cfg.Model,
	}
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	if r.o.hook != nil {
		r.o.hook(r.turn.SessionID, from, to)
	}
}

func (r *run) send(ev types.StreamEvent) bool {
	if r.emit == nil {
		return true
	}
	return r.emit(ev)
}

func (r *run) run(ctx context.Context) (*Result, *types.Error) {
	o := r.o
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("session.id", r.turn.SessionID),
		attribute.String("llm.provider", r.provider),
	))
	defer span.End()

	r.transition(StateBuildingContext)
	msgs := o.builder.Build(r.turn.History, o.cfg.ContextWindow)
	msgs = append(msgs, types.NewUserMessage(r.turn.UserText))
	if budget := o.cfg.MaxContextTokens; budget > 0 {
		before := len(msgs)
		msgs = llmcontext.PruneByTokens(msgs, budget, o.adapter)
		if len(msgs) < before {
			r.logger.Debug("history pruned to token budget",
				zap.Int("budget", budget), zap.Int("dropped", before-len(msgs)))
		}
	}

	catalog, toolsOn := r.catalog(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(span, cancelled(err))
		}

		offered := catalog
		if r.rounds >= o.cfg.MaxToolRounds {
			offered = nil
		}

		r.transition(StateAwaitingModel)
		resp, err := r.callModel(ctx, msgs, offered)
		if err != nil {
			return r.fail(span, err)
		}
		r.usage.Add(resp.Usage)
		if resp.Model != "" {
			r.model = resp.Model
		}
		if resp.Content != "" {
			r.partial = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			return r.finish(span, resp)
		}
		if r.rounds >= o.cfg.MaxToolRounds {
			return r.fail(span, types.NewError(types.ErrToolLoopLimit,
				fmt.Sprintf("model kept requesting tools after %d rounds", r.rounds)))
		}

		r.transition(StateResolvingTools)
		for _, call := range resp.ToolCalls {
			if !r.send(types.ToolCallStarted(call)) {
				return r.fail(span, cancelled(ctx.Err()))
			}
		}
		results, accepted := r.resolve(ctx, resp.ToolCalls, toolsOn)
		if err := ctx.Err(); err != nil {
			return r.fail(span, cancelled(err))
		}

		// Rejected invocations are reported to the client only. Providers
		// refuse empty or repeated ids in the history they are sent.
		var calls []types.ToolCall
		var replies []types.Message
		for i, res := range results {
			if !r.send(types.ToolCallFinished(res)) {
				return r.fail(span, cancelled(ctx.Err()))
			}
			if !accepted[i] {
				continue
			}
			calls = append(calls, resp.ToolCalls[i])
			tm := res.ToMessage()
			tm.Content = o.format(res)
			replies = append(replies, tm)
		}
		if len(calls) > 0 || resp.Content != "" {
			assistant := types.NewAssistantMessage(resp.Content).WithToolCalls(calls)
			msgs = append(msgs, assistant)
			r.turns = append(r.turns, assistant)
		}
		msgs = append(msgs, replies...)
		r.turns = append(r.turns, replies...)
		r.executed = append(r.executed, calls...)
		r.rounds++
		span.AddEvent("tool_round", trace.WithAttributes(attribute.Int("round", r.rounds)))
	}
}

// catalog returns the tools to offer and whether tool calls may be executed
// at all this turn.
func (r *run) catalog(ctx context.Context) ([]types.ToolSchema, bool) {
	o := r.o
	if !o.cfg.ToolsEnabled || o.tools == nil {
		return nil, false
	}
	tools, err := o.tools.ListTools(ctx, r.turn.Principal, true)
	if err != nil {
		r.logger.Warn("tool catalog unavailable, continuing without tools", zap.Error(err))
		return nil, false
	}
	return tools, true
}

func (r *run) callModel(ctx context.Context, msgs []types.Message, tools []types.ToolSchema) (*llm.Response, *types.Error) {
	o := r.o
	req := &llm.Request{
		Turns:        msgs,
		Tools:        tools,
		SystemPrompt: o.cfg.SystemPrompt,
		Model:        o.cfg.Model,
		Temperature:  o.cfg.Temperature,
		TopP:         o.cfg.TopP,
		MaxTokens:    o.cfg.MaxTokens,
	}

	// Once a delta has reached the client a retry would repeat it.
	emitted := false
	policy := o.policy
	policy.MaxRetries = o.cfg.MaxRetries
	retryable := policy.Retryable
	if retryable == nil {
		retryable = types.IsRetryable
	}
	policy.Retryable = func(err error) bool { return !emitted && retryable(err) }

	resp, err := retry.DoWithResult(ctx, retry.NewBackoffRetryer(&policy, r.logger), func(ctx context.Context) (*llm.Response, error) {
		return r.modelOnce(ctx, req, &emitted)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, toError(err, r.provider)
	}
	return resp, nil
}

func (r *run) modelOnce(ctx context.Context, req *llm.Request, emitted *bool) (*llm.Response, error) {
	o := r.o
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()
	callCtx, span := o.tracer.Start(callCtx, "orchestrator.model", trace.WithAttributes(
		attribute.String("llm.provider", r.provider),
		attribute.Int("llm.tools", len(req.Tools)),
	))
	defer span.End()

	start := time.Now()
	resp, err := r.invoke(callCtx, req, emitted)
	if err != nil {
		e := classify(ctx, callCtx, err, r.provider)
		span.RecordError(e)
		span.SetStatus(codes.Error, string(e.Code))
		o.recorder.RecordModelCall(r.provider, r.model, string(e.Code), time.Since(start), types.TokenUsage{}, 0)
		return nil, e
	}

	model := resp.Model
	if model == "" {
		model = r.model
	}
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
	)
	cost := llm.EstimateCost(r.provider, model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	o.recorder.RecordModelCall(r.provider, model, "ok", time.Since(start), resp.Usage, cost)
	return resp, nil
}

func (r *run) invoke(ctx context.Context, req *llm.Request, emitted *bool) (*llm.Response, error) {
	if r.emit == nil {
		resp, err := r.o.adapter.Respond(ctx, req)
		if err == nil && resp == nil {
			return nil, types.NewMalformedError(r.provider, errors.New("empty response"))
		}
		return resp, err
	}

	ch, err := r.o.adapter.RespondStream(ctx, req)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return nil, types.NewMalformedError(r.provider, errors.New("stream ended without a final chunk"))
			}
			switch {
			case c.Err != nil:
				return nil, c.Err
			case c.Final != nil:
				return c.Final, nil
			case c.Delta != "":
				*emitted = true
				if !r.send(types.ContentDelta(c.Delta)) {
					return nil, context.Canceled
				}
			}
			// Tool call announcements are ignored; the final chunk carries
			// the complete list.
		}
	}
}

func (r *run) finish(span trace.Span, resp *llm.Response) (*Result, *types.Error) {
	r.transition(StateFinalizing)
	reason := resp.FinishReason
	if reason == "" || reason == types.FinishToolCalls {
		reason = types.FinishStop
	}
	final := r.response(resp.Content, reason)
	r.turns = append(r.turns, types.NewAssistantMessage(resp.Content))

	r.transition(StateDone)
	d := time.Since(r.start)
	span.SetAttributes(
		attribute.Int("turn.rounds", r.rounds),
		attribute.Float64("turn.cost", final.Cost),
	)
	r.o.recorder.RecordTurn("ok", r.rounds, d)
	r.logger.Info("turn completed",
		zap.Int("rounds", r.rounds),
		zap.Int("input_tokens", final.Usage.InputTokens),
		zap.Int("output_tokens", final.Usage.OutputTokens),
		zap.Duration("duration", d),
	)

	if r.terminal != nil {
		ev := types.Done(final)
		ev.Turns = r.turns
		r.terminal(ev)
	}
	return &Result{Response: final, Turns: r.turns, Rounds: r.rounds}, nil
}

func (r *run) fail(span trace.Span, err *types.Error) (*Result, *types.Error) {
	if err.Code == types.ErrMalformedResponse {
		err = types.NewError(types.ErrUpstreamUnavailable, "upstream returned a malformed response").
			WithCause(err).
			WithProvider(err.Provider).
			WithHTTPStatus(502)
	}
	r.transition(StateFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Code))
	r.o.recorder.RecordTurn(string(err.Code), r.rounds, time.Since(r.start))

	level := zap.WarnLevel
	if err.Code == types.ErrCancelled {
		level = zap.DebugLevel
	}
	r.logger.Check(level, "turn failed").Write(
		zap.String("code", string(err.Code)),
		zap.Int("rounds", r.rounds),
		zap.Error(err),
	)

	var res *Result
	ev := types.Failed(err)
	if err.Code == types.ErrToolLoopLimit {
		partial := r.response(r.partial, types.FinishError)
		turns := r.turns
		if r.partial != "" {
			turns = append(turns, types.NewAssistantMessage(r.partial))
		}
		res = &Result{Response: partial, Turns: turns, Rounds: r.rounds}
		ev.Final = &partial
		ev.Turns = turns
	}
	if r.terminal != nil {
		r.terminal(ev)
	}
	return res, err
}

func (r *run) response(content string, reason types.FinishReason) llm.Response {
	calls := make([]types.ToolCall, len(r.executed))
	copy(calls, r.executed)
	return llm.Response{
		Content:      content,
		ToolCalls:    calls,
		Usage:        r.usage,
		FinishReason: reason,
		Model:        r.model,
		Provider:     r.provider,
		Cost:         llm.EstimateCost(r.provider, r.model, r.usage.InputTokens, r.usage.OutputTokens),
	}
}

// classify maps a failed model call. A done parent means the turn was
// cancelled; an expired call deadline is an upstream timeout.
func classify(parent, call context.Context, err error, provider string) *types.Error {
	if parent.Err() != nil {
		return cancelled(parent.Err())
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return types.NewTimeoutError(provider, err)
	}
	return toError(err, provider)
}

func toError(err error, provider string) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	return providers.MapTransportError(err, provider)
}

func cancelled(cause error) *types.Error {
	if cause == nil {
		cause = context.Canceled
	}
	return types.NewError(types.ErrCancelled, "turn cancelled").WithCause(cause).WithHTTPStatus(499)
}
