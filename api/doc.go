// Package api defines the request and response bodies of the ConvoFlow
// HTTP API. Every route lives under /api/v1 and, except for the health
// endpoints, requires a principal established by JWT or API-key auth.
//
// Streaming replies are Server-Sent Events with one frame per event:
//
//	event: content
//	data: {"content":"Hel"}
//
// The same payloads are sent as WebSocket text messages wrapped in
// {"type": ..., "data": ...}.
package api
