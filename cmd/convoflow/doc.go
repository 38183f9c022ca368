// Copyright (c) ConvoFlow Authors.
// Licensed under the MIT License.

/*
Command convoflow runs the conversation gateway and its maintenance tasks.

	convoflow serve   --config config.yaml
	convoflow cleanup --older-than 720h [--archive]
	convoflow usage   --date 2026-01-31
	convoflow health  --addr http://localhost:8080 [--ready]

serve wires the session store, the optional Redis cache, the provider
adapter, the tool service client and the orchestrator behind the HTTP API,
and exposes Prometheus metrics on a separate port. Authentication is JWT
bearer tokens, API keys, or both; with neither configured the X-User-ID
header is trusted.
*/
package main
