// Copyright (c) ConvoFlow Authors.
// Licensed under the MIT License.

/*
Package types holds the shared vocabulary of the conversation engine.

It depends on no other package in the module, so llm, the tool protocol
client, the orchestrator and the HTTP layer can all use it without import
cycles.

# Core types

  - Message, ToolCall: conversation turns and tool invocations
  - ToolSchema, ToolResult: tool catalog entries and invocation outcomes
  - ModelResponse: the result of one model call or a whole turn
  - StreamEvent: tagged union of turn progress events
  - Error, ErrorCode: structured errors with HTTP status and retry hints
*/
package types
