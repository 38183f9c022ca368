// Copyright (c) ConvoFlow Authors.
// Licensed under the MIT License.

// Package mcp is a Model Context Protocol client. It speaks JSON-RPC 2.0
// over HTTP POST to a tool server: a one-time initialize handshake, a
// per-principal tool catalog with TTL caching, and tool invocation that
// never fails the caller but folds every error into the tool result.
package mcp
