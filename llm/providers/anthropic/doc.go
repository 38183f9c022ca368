// Package claude implements the Anthropic Messages API adapter.
//
// System turns are lifted into the request's system field and tool turns
// are sent back as tool_result blocks inside user messages, as the API
// requires.
package claude
