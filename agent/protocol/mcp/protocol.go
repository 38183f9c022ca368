package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/convoflow/types"
)

// ProtocolVersion is the MCP revision sent in the handshake.
const ProtocolVersion = "2025-03-26"

const (
	MethodInitialize = "initialize"
	MethodListTools  = "tools/list"
	MethodCallTool   = "tools/call"
)

// JSON-RPC error codes. CodeAuthRequired is server-defined.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeAuthRequired   = -32001
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToError converts e to a *types.Error. Authentication failures become
// UNAUTHORIZED with the authorize action; everything else gets fallback.
func (e *RPCError) ToError(fallback types.ErrorCode) *types.Error {
	if e.Code == CodeAuthRequired {
		return types.NewError(types.ErrUnauthorized, e.Message).
			WithHTTPStatus(http.StatusUnauthorized).
			WithAction(types.ActionAuthorize).
			WithProvider("mcp")
	}
	return types.NewError(fallback, e.Message).WithCause(e).WithProvider("mcp")
}

// ClientInfo identifies this client in the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type rootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ClientCapabilities is what this client announces. Only roots, without
// change notifications.
type ClientCapabilities struct {
	Roots rootsCapability `json:"roots"`
}

// InitializeParams are the params of the initialize call.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

// ServerInfo is returned by the server during the handshake.
type ServerInfo struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// ToolDefinition is one entry of a tools/list result.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToToolSchema converts the definition to the catalog type handed to
// adapters. A missing input schema becomes an empty object schema.
func (d ToolDefinition) ToToolSchema() types.ToolSchema {
	params := d.InputSchema
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return types.ToolSchema{Name: d.Name, Description: d.Description, Parameters: params}
}

type listToolsResult struct {
	Tools []ToolDefinition `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentItem is one element of a tools/call result's content array.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type callToolResult struct {
	Content           []ContentItem   `json:"content"`
	IsError           bool            `json:"isError,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// normaliseResult turns a tools/call result into the payload stored on a
// ToolResult. MCP content text items are joined; if the text is JSON it is
// kept as structured data, otherwise it is stored as a JSON string. Results
// without a content array pass through. A result flagged isError returns
// its text as the error message.
func normaliseResult(raw json.RawMessage) (json.RawMessage, string) {
	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil || res.Content == nil {
		if len(raw) == 0 {
			return json.RawMessage(`null`), ""
		}
		return raw, ""
	}

	var texts []string
	for _, item := range res.Content {
		switch item.Type {
		case "text":
			texts = append(texts, item.Text)
		default:
			texts = append(texts, fmt.Sprintf("[%s content]", item.Type))
		}
	}
	text := strings.Join(texts, "\n")

	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, text
	}
	if len(res.StructuredContent) > 0 {
		return res.StructuredContent, ""
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), ""
	}
	encoded, _ := json.Marshal(text)
	return encoded, ""
}
