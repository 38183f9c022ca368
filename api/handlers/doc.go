// Copyright (c) ConvoFlow Authors.
// Licensed under the MIT License.

/*
Package handlers implements the ConvoFlow HTTP endpoints.

# Overview

Every handler is a plain net/http handler that expects the auth
middleware to have placed the caller's principal in the request context
(types.WithPrincipal). Path parameters are read with Request.PathValue,
so routes are registered on a Go 1.22 pattern ServeMux.

# Handlers

  - ChatHandler     sends messages, synchronously, over SSE or WebSocket
  - SessionHandler  session lifecycle, message history and clearing
  - FeedbackHandler message ratings and statistics
  - ToolHandler     the caller's tool catalog and its cache
  - HealthHandler   liveness and concurrent readiness checks

# Responses

JSON replies use the Response envelope. Errors are *types.Error values
whose code is mapped to an HTTP status unless the error carries one.

# Persistence order

A user message is stored before its acknowledgement is sent. The turns
produced by the orchestrator are stored when the Done event arrives and
before it is forwarded, together with the usage of the turn. A failed
turn leaves only the user message behind.
*/
package handlers
