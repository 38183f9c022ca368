package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/convoflow/types"
)

const (
	msgMissingID   = "missing invocation id"
	msgDuplicateID = "duplicate invocation id"
	msgUnavailable = "tool calling is unavailable"
)

// resolve executes one round of tool calls. Both returned slices are
// parallel to calls. Calls with a missing or repeated id get error results
// without reaching the provider and are marked not accepted.
func (r *run) resolve(ctx context.Context, calls []types.ToolCall, enabled bool) ([]types.ToolResult, []bool) {
	results := make([]types.ToolResult, len(calls))
	accepted := make([]bool, len(calls))
	seen := make(map[string]struct{}, len(calls))

	var g errgroup.Group
	if r.o.cfg.MaxParallel > 0 {
		g.SetLimit(r.o.cfg.MaxParallel)
	}
	for i, call := range calls {
		if call.ID == "" {
			r.logger.Warn("tool call without id", zap.String("tool", call.Name))
			results[i] = types.NewToolError(call, msgMissingID)
			continue
		}
		if _, dup := seen[call.ID]; dup {
			r.logger.Warn("duplicate tool call id", zap.String("tool", call.Name), zap.String("call_id", call.ID))
			results[i] = types.NewToolError(call, msgDuplicateID)
			continue
		}
		seen[call.ID] = struct{}{}
		accepted[i] = true

		if !enabled {
			results[i] = types.NewToolError(call, msgUnavailable)
			continue
		}
		g.Go(func() error {
			results[i] = r.callTool(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results, accepted
}

func (r *run) callTool(ctx context.Context, call types.ToolCall) types.ToolResult {
	o := r.o
	toolCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolTimeout)
	defer cancel()
	toolCtx, span := o.tracer.Start(toolCtx, "orchestrator.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	done := make(chan types.ToolResult, 1)
	go func() {
		done <- o.tools.CallTool(toolCtx, r.turn.Principal, call)
	}()

	var res types.ToolResult
	select {
	case res = <-done:
	case <-toolCtx.Done():
		if ctx.Err() != nil {
			res = types.NewToolError(call, "tool call cancelled")
		} else {
			res = types.NewToolError(call, fmt.Sprintf("tool execution timed out after %s", o.cfg.ToolTimeout))
		}
	}
	res.ToolCallID = call.ID
	if res.Name == "" {
		res.Name = call.Name
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	status := "ok"
	if res.IsError() {
		status = "error"
		span.SetStatus(codes.Error, res.Error)
		r.logger.Debug("tool call failed", zap.String("tool", call.Name), zap.String("error", res.Error))
	}
	o.recorder.RecordToolCall(call.Name, status, time.Since(start))
	return res
}
