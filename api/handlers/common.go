package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/convoflow/types"
	"go.uber.org/zap"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Response is the envelope of every JSON reply.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the client-facing part of a *types.Error.
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	Action     string `json:"action,omitempty"`
	HTTPStatus int    `json:"-"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteError writes err as an error envelope. Client errors are logged at
// warn, everything else at error.
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	WriteErrorWithData(w, r, err, nil, logger)
}

// WriteErrorWithData writes err as an error envelope that also carries data,
// such as a partial answer.
func WriteErrorWithData(w http.ResponseWriter, r *http.Request, err *types.Error, data any, logger *zap.Logger) {
	status := HTTPStatus(err)
	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status < http.StatusInternalServerError {
			logger.Warn("request rejected", fields...)
		} else {
			logger.Error("request failed", fields...)
		}
	}
	if err.Code == types.ErrRateLimited {
		w.Header().Set("Retry-After", "60")
	}

	WriteJSON(w, status, Response{
		Success: false,
		Data:    data,
		Error: &ErrorInfo{
			Code:       string(err.Code),
			Message:    err.Message,
			Retryable:  err.Retryable,
			Action:     err.Action,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteErrorMessage writes a plain error with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// ToError converts any error returned by a dependency into a *types.Error.
func ToError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrCancelled, "request cancelled").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrUpstreamTimeout, "request timed out").WithCause(err).WithRetryable(true)
	}
	return types.WrapError(err, types.ErrInternalError, "internal error")
}

// HTTPStatus returns the status an error is reported with.
func HTTPStatus(err *types.Error) int {
	if err.HTTPStatus != 0 {
		return err.HTTPStatus
	}
	return mapErrorCodeToHTTPStatus(err.Code)
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrMissingInvocationID, types.ErrDuplicateInvocation:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrNotFound, types.ErrModelNotFound:
		return http.StatusNotFound
	case types.ErrSessionBusy:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrQuotaExceeded:
		return http.StatusPaymentRequired
	case types.ErrContentFiltered, types.ErrToolLoopLimit:
		return http.StatusUnprocessableEntity
	case types.ErrCancelled:
		return 499
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUpstreamUnavailable, types.ErrCatalogUnavailable, types.ErrHandshakeFailed:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrMalformedResponse, types.ErrToolExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes a strict JSON body into dst, writing the error
// response itself on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, r, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType rejects bodies that are not JSON.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	ct := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType), logger)
		return false
	}
	return true
}

// principal returns the authenticated caller or writes a 401.
func principal(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	p, ok := types.Principal(r.Context())
	if !ok || p == "" {
		WriteError(w, r, types.NewError(types.ErrUnauthorized, "authentication required").
			WithAction(types.ActionAuthorize), logger)
		return "", false
	}
	return p, true
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := types.RequestID(r.Context())
	return id
}

// ResponseWriter records the status written through it. It forwards
// Flush so that SSE handlers keep working behind middleware.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader records code once.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
