// Copyright (c) ConvoFlow Authors.
// Licensed under the MIT License.

/*
Package orchestrator drives one conversational turn from a user message to a
final answer.

A turn builds the context window, calls the model adapter and, while the
model keeps requesting tools, resolves those calls through a ToolProvider
and feeds the results back. The loop is bounded by Config.MaxToolRounds.
Progress is reported as a finite stream of types.StreamEvent values that
ends with exactly one Done or Failed event.

Only one turn may run per session at a time; a concurrent request for the
same session fails with SESSION_BUSY.
*/
package orchestrator
