package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/internal/tlsutil"
	"github.com/BaSui01/convoflow/llm/providers"
	"github.com/BaSui01/convoflow/types"
)

const providerName = "mcp"

// Transport carries one JSON-RPC exchange to the tool server.
type Transport interface {
	RoundTrip(ctx context.Context, token string, req *Request) (*Response, error)
}

// HTTPTransport posts each request to a single endpoint with a bearer
// token.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPTransport creates a transport. A zero timeout means 30s.
func NewHTTPTransport(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		endpoint: endpoint,
		client:   tlsutil.HTTPClient(timeout),
		logger:   logger,
	}
}

// RoundTrip sends req and decodes the response. HTTP failures and
// transport errors come back as *types.Error; a JSON-RPC error object is
// returned inside the Response. A response whose id differs from the
// request id is malformed.
func (t *HTTPTransport) RoundTrip(ctx context.Context, token string, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrConfiguration, "invalid tool endpoint").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(err, providerName)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, mapStatus(resp.StatusCode, msg)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewMalformedError(providerName, err).WithRetryable(false)
	}
	if !sameID(out.ID, req.ID) {
		return nil, types.NewMalformedError(providerName,
			fmt.Errorf("response id %s does not match request id %q", string(out.ID), req.ID)).WithRetryable(false)
	}
	return &out, nil
}

func sameID(raw json.RawMessage, want string) bool {
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == want
}

func mapStatus(status int, msg string) *types.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("HTTP %d: %s", status, msg)
	switch {
	case status == http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).
			WithHTTPStatus(status).WithAction(types.ActionAuthorize).WithProvider(providerName)
	case status == http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status).WithProvider(providerName)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(providerName)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(providerName)
	case status >= 500:
		return types.NewError(types.ErrUpstreamUnavailable, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(providerName)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithProvider(providerName)
	}
}
