package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/internal/cache"
	"github.com/BaSui01/convoflow/llm/retry"
	"github.com/BaSui01/convoflow/types"
)

// Config configures a Client.
type Config struct {
	Endpoint      string        `yaml:"endpoint" json:"endpoint"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	ClientName    string        `yaml:"client_name" json:"client_name"`
	ClientVersion string        `yaml:"client_version" json:"client_version"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	CatalogTTL    time.Duration `yaml:"catalog_ttl" json:"catalog_ttl"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		ClientName:    "convoflow",
		ClientVersion: "1.0.0",
		MaxRetries:    2,
		CatalogTTL:    5 * time.Minute,
	}
}

// TokenSource yields the bearer token used for a principal's requests.
type TokenSource interface {
	Token(ctx context.Context, principal string) (string, error)
}

// StaticToken uses the same token for every principal.
type StaticToken string

func (t StaticToken) Token(context.Context, string) (string, error) { return string(t), nil }

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context, principal string) (string, error)

func (f TokenFunc) Token(ctx context.Context, principal string) (string, error) {
	return f(ctx, principal)
}

// ContextToken prefers the credential carried by the request context (see
// types.WithToolToken) and otherwise asks Fallback.
type ContextToken struct {
	Fallback TokenSource
}

func (t ContextToken) Token(ctx context.Context, principal string) (string, error) {
	if tok, ok := types.ToolToken(ctx); ok {
		return tok, nil
	}
	if t.Fallback != nil {
		return t.Fallback.Token(ctx, principal)
	}
	return "", nil
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithSharedCatalog adds a Redis tier to the tool catalog cache.
func WithSharedCatalog(store *cache.Manager) Option {
	return func(c *Client) { c.sharedCatalog = store }
}

// WithResultCache caches successful tool results in store for ttl.
func WithResultCache(store *cache.Manager, ttl time.Duration) Option {
	return func(c *Client) { c.results = NewResultCache(store, ttl, c.logger) }
}

// WithRetryPolicy overrides the backoff used for transport failures.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(c *Client) { c.retryPolicy = p }
}

// WithCacheObserver reports catalog and result cache lookups, for metrics.
func WithCacheObserver(fn func(cacheType string, hit bool)) Option {
	return func(c *Client) { c.observe = fn }
}

// Client is an MCP client bound to one tool endpoint.
type Client struct {
	cfg           Config
	transport     Transport
	tokens        TokenSource
	catalog       *CatalogCache
	sharedCatalog *cache.Manager
	results       *ResultCache
	retryPolicy   *retry.Policy
	retryer       retry.Retryer
	observe       func(cacheType string, hit bool)
	logger        *zap.Logger

	mu     sync.Mutex
	server *ServerInfo
}

// NewClient creates a client. tokens may be nil when the endpoint needs no
// authentication.
func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = def.ClientVersion
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		logger: logger.With(zap.String("component", "mcp_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(cfg.Endpoint, cfg.Timeout, c.logger)
	}
	if c.retryPolicy == nil {
		c.retryPolicy = &retry.Policy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: time.Second,
			MaxDelay:     4 * time.Second,
			Multiplier:   2,
		}
	}
	c.retryer = retry.NewBackoffRetryer(c.retryPolicy, c.logger)
	c.catalog = NewCatalogCache(cfg.CatalogTTL, c.sharedCatalog, c.logger)
	c.catalog.observe = c.observe
	if c.results != nil {
		c.results.observe = c.observe
	}
	return c
}

func (c *Client) call(ctx context.Context, principal, method string, params any) (*Response, error) {
	token, err := c.tokens.Token(ctx, principal)
	if err != nil {
		return nil, types.NewError(types.ErrUnauthorized, "no credentials for tool server").
			WithCause(err).WithAction(types.ActionAuthorize)
	}
	req := &Request{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	return c.transport.RoundTrip(ctx, token, req)
}

// Handshake performs the initialize exchange once per client lifetime.
// A failed handshake is retried on the next call. It always runs with the
// service credential, never with a caller's forwarded token.
func (c *Client) Handshake(ctx context.Context) (*ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return c.server, nil
	}

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      ClientInfo{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
	}
	resp, err := c.call(types.WithToolToken(ctx, ""), "", MethodInitialize, params)
	if err != nil {
		return nil, handshakeError(err)
	}
	if resp.Error != nil {
		return nil, handshakeError(resp.Error.ToError(types.ErrHandshakeFailed))
	}
	var info ServerInfo
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &info); err != nil {
			return nil, handshakeError(types.NewMalformedError(providerName, err))
		}
	}
	c.server = &info
	c.logger.Info("tool server handshake complete",
		zap.String("server", info.ServerInfo.Name),
		zap.String("protocol_version", info.ProtocolVersion),
	)
	return c.server, nil
}

// handshakeError reports HANDSHAKE_FAILED, keeping the cause's action hint
// so an authorization problem still tells the user to authorize.
func handshakeError(cause error) *types.Error {
	e := types.NewError(types.ErrHandshakeFailed, "tool server handshake failed").WithCause(cause).WithProvider(providerName)
	if ce, ok := types.AsError(cause); ok {
		e.Action = ce.Action
		e.Retryable = ce.Retryable
		e.HTTPStatus = ce.HTTPStatus
	}
	return e
}

// ListTools returns the tool catalog visible to principal.
func (c *Client) ListTools(ctx context.Context, principal string, useCache bool) ([]types.ToolSchema, error) {
	return c.catalog.Get(ctx, principal, useCache, func(ctx context.Context) ([]types.ToolSchema, error) {
		if _, err := c.Handshake(ctx); err != nil {
			return nil, err
		}

		var resp *Response
		err := c.retryer.Do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.call(ctx, principal, MethodListTools, struct{}{})
			return err
		})
		if err != nil {
			return nil, catalogError(err)
		}
		if resp.Error != nil {
			return nil, catalogError(resp.Error.ToError(types.ErrCatalogUnavailable))
		}

		var result listToolsResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, catalogError(types.NewMalformedError(providerName, err))
		}
		tools := make([]types.ToolSchema, 0, len(result.Tools))
		for _, def := range result.Tools {
			if def.Name == "" {
				continue
			}
			tools = append(tools, def.ToToolSchema())
		}
		c.logger.Debug("tool catalog fetched", zap.String("principal", principal), zap.Int("tools", len(tools)))
		return tools, nil
	})
}

func catalogError(cause error) *types.Error {
	e := types.NewError(types.ErrCatalogUnavailable, "tool catalog unavailable").WithCause(cause).WithProvider(providerName)
	if ce, ok := types.AsError(cause); ok {
		e.Action = ce.Action
		e.Retryable = ce.Retryable
	}
	return e
}

// InvalidateTools drops the cached catalog for principal.
func (c *Client) InvalidateTools(ctx context.Context, principal string) error {
	return c.catalog.Invalidate(ctx, principal)
}

// ServerInfo returns the handshake result, or nil before the first
// successful handshake.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// errRPC marks a JSON-RPC error object so the retryer does not repeat it.
type errRPC struct{ *RPCError }

// CallTool invokes call on behalf of principal. It never returns an error:
// every failure becomes a result carrying the error marker. Transport
// failures are retried with backoff; JSON-RPC errors are not.
func (c *Client) CallTool(ctx context.Context, principal string, call types.ToolCall) types.ToolResult {
	start := time.Now()
	finish := func(r types.ToolResult) types.ToolResult {
		r.Duration = time.Since(start)
		return r
	}

	if _, err := c.Handshake(ctx); err != nil {
		return finish(types.NewToolError(call, errorMessage(err)))
	}
	if c.results != nil {
		if cached, ok := c.results.get(ctx, principal, call); ok {
			c.logger.Debug("tool result served from cache", zap.String("tool", call.Name))
			return finish(types.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: cached})
		}
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var resp *Response
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.call(ctx, principal, MethodCallTool, callToolParams{Name: call.Name, Arguments: args})
		if err == nil && resp.Error != nil {
			return errRPC{resp.Error}
		}
		return err
	})

	var rpcErr errRPC
	switch {
	case errors.As(err, &rpcErr):
		c.logger.Warn("tool returned an error", zap.String("tool", call.Name), zap.Int("code", rpcErr.Code), zap.String("message", rpcErr.Message))
		return finish(types.NewToolError(call, rpcErr.Message))
	case err != nil:
		c.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		return finish(types.NewToolError(call, "Tool execution failed: "+errorMessage(err)))
	}

	result, failure := normaliseResult(resp.Result)
	if failure != "" {
		return finish(types.NewToolError(call, failure))
	}
	if c.results != nil {
		c.results.put(ctx, principal, call, result)
	}
	return finish(types.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: result})
}

func errorMessage(err error) string {
	if e, ok := types.AsError(err); ok {
		if e.Cause != nil {
			return e.Message + ": " + e.Cause.Error()
		}
		return e.Message
	}
	return err.Error()
}
