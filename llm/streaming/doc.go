// Package streaming writes orchestrator events as Server-Sent Events frames
// and reads them back.
//
// Each frame is "event: <type>\ndata: <json>\n\n". Frames are written
// synchronously in the order Encode is called, and the encoder refuses
// every frame after a terminal done or error frame. The same JSON payloads
// are used by the WebSocket transport, wrapped in an Envelope.
package streaming
