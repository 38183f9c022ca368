package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/BaSui01/convoflow/types"
)

// MapHTTPError maps an upstream HTTP status to a *types.Error with the
// right retry flag. Every adapter uses it for non-2xx replies.
func MapHTTPError(status int, msg string, provider string) *types.Error {
	e := types.NewError(types.ErrUpstreamError, msg).
		WithHTTPStatus(status).
		WithProvider(provider)

	switch status {
	case http.StatusUnauthorized:
		e.Code = types.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = types.ErrForbidden
	case http.StatusNotFound:
		e.Code = types.ErrModelNotFound
	case http.StatusTooManyRequests:
		e.Code = types.ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = types.ErrQuotaExceeded
		} else {
			e.Code = types.ErrInvalidRequest
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code = types.ErrUpstreamTimeout
		e.Retryable = true
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		e.Code = types.ErrUpstreamUnavailable
		e.Retryable = true
	default:
		e.Retryable = status >= 500
	}
	return e
}

// MapTransportError classifies a failed round trip. Deadline and timeout
// errors become UPSTREAM_TIMEOUT, cancellation becomes CANCELLED and
// everything else UPSTREAM_UNAVAILABLE.
func MapTransportError(err error, provider string) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCancelled, "request cancelled").WithCause(err).WithProvider(provider)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewTimeoutError(provider, err)
	}
	return types.NewError(types.ErrUpstreamUnavailable, "upstream unavailable").
		WithCause(err).
		WithRetryable(true).
		WithProvider(provider).
		WithHTTPStatus(http.StatusBadGateway)
}

// ReadErrorMessage extracts a human message from an error body, falling
// back to the raw text.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// SafeCloseBody drains and closes a response body so the connection can be
// reused.
func SafeCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
	_ = body.Close()
}

// PostJSON sends payload to url and returns the response when the status is
// 2xx. Non-2xx replies are mapped with MapHTTPError and the body is closed.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, provider string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err).WithProvider(provider)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "build request").WithCause(err).WithProvider(provider)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, MapTransportError(err, provider)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ReadErrorMessage(resp.Body)
		SafeCloseBody(resp.Body)
		return nil, MapHTTPError(resp.StatusCode, msg, provider)
	}
	return resp, nil
}

// GetOK issues a GET and discards the body, failing on non-2xx.
func GetOK(ctx context.Context, client *http.Client, url string, headers map[string]string, provider string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "build request").WithCause(err).WithProvider(provider)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return MapTransportError(err, provider)
	}
	defer SafeCloseBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), provider)
	}
	return nil
}

// DecodeJSON reads a 2xx body into out, mapping decode failures to
// MALFORMED_RESPONSE.
func DecodeJSON(resp *http.Response, out any, provider string) error {
	defer SafeCloseBody(resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewMalformedError(provider, err)
	}
	return nil
}

// ScanSSE calls fn with the payload of every "data:" line until the body
// ends, fn returns false, or ctx is done. A "[DONE]" payload ends the scan.
func ScanSSE(ctx context.Context, body io.Reader, fn func(event, data string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	event := ""
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			if !fn(event, data) {
				return nil
			}
		}
	}
	return scanner.Err()
}

// ScanLines calls fn for every non-empty line, for newline-delimited JSON
// streams.
func ScanLines(ctx context.Context, body io.Reader, fn func(line []byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !fn(line) {
			return nil
		}
	}
	return scanner.Err()
}

// ToolArgumentsObject normalises tool arguments to a JSON object. Models
// sometimes return an empty string or a JSON-encoded string.
func ToolArgumentsObject(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == `""` {
		return json.RawMessage(`{}`)
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			s = strings.TrimSpace(s)
			if s == "" {
				return json.RawMessage(`{}`)
			}
			if json.Valid([]byte(s)) {
				return json.RawMessage(s)
			}
		}
	}
	return json.RawMessage(trimmed)
}

// RequireAPIKey is the shared ValidateConfig check for cloud adapters.
func RequireAPIKey(cfg BaseProviderConfig, provider string) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return types.NewConfigError(provider, provider+": api key is required").WithAction(types.ActionReload)
	}
	return nil
}
