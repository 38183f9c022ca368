// Package openai implements the OpenAI Chat Completions adapter with native
// function calling and SSE streaming.
package openai
