package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/cachemanager/internal/logger"
)

// ErrorCode is a stable, machine readable error identifier.
type ErrorCode string

const (
	ErrAuthMissing ErrorCode = "AUTH_MISSING"
	ErrAuthInvalid ErrorCode = "AUTH_INVALID"

	ErrCacheEntryNotFound ErrorCode = "CACHE_ENTRY_NOT_FOUND"
	ErrCacheInvalidKey    ErrorCode = "CACHE_INVALID_KEY"
	ErrCacheInvalidParams ErrorCode = "CACHE_INVALID_PARAMS"
	ErrCacheUnavailable   ErrorCode = "CACHE_UNAVAILABLE"

	ErrSystemInternal ErrorCode = "SYSTEM_INTERNAL"

	ErrValidationInvalidJSON  ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue ErrorCode = "VALIDATION_INVALID_VALUE"

	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// Error is the JSON body returned for every failed admin request.
type Error struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	status    int
}

// ErrorResponse wraps Error on the wire.
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates an API error that will be written with the given status.
func New(code ErrorCode, message string, status int) *Error {
	return &Error{Code: code, Message: message, status: status}
}

// WithDetails attaches structured context to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRequestID stamps the correlating request ID.
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code.
func (e *Error) Status() int {
	return e.status
}

// WriteError writes err as JSON with its status code.
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// WriteErrorWithContext is WriteError plus the request ID carried by r.
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := logger.RequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}

func orDefault(message, def string) string {
	if message == "" {
		return def
	}
	return message
}

func AuthMissing(message string) *Error {
	return New(ErrAuthMissing, orDefault(message, "Authentication required"), http.StatusUnauthorized)
}

func AuthInvalid(message string) *Error {
	return New(ErrAuthInvalid, orDefault(message, "Invalid authentication credentials"), http.StatusUnauthorized)
}

// CacheEntryNotFound reports a miss for (namespace, key).
func CacheEntryNotFound(namespace, key string) *Error {
	return New(ErrCacheEntryNotFound, "Cache entry not found", http.StatusNotFound).
		WithDetails(map[string]any{"namespace": namespace, "key": key})
}

// CacheInvalidKey rejects an empty or malformed namespace or key.
func CacheInvalidKey(message string) *Error {
	return New(ErrCacheInvalidKey, orDefault(message, "Namespace and key must be non-empty"), http.StatusBadRequest)
}

// CacheInvalidParams rejects a params query value that is not JSON.
func CacheInvalidParams(message string) *Error {
	return New(ErrCacheInvalidParams, orDefault(message, "params must be a JSON value"), http.StatusBadRequest).
		WithDetails(map[string]any{"field": "params"})
}

// CacheUnavailable is returned when no cache instance is wired.
func CacheUnavailable() *Error {
	return New(ErrCacheUnavailable, "Cache is not available", http.StatusServiceUnavailable)
}

func SystemInternal(message string) *Error {
	return New(ErrSystemInternal, orDefault(message, "Internal server error"), http.StatusInternalServerError)
}

func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]any{"field": field})
}

func ValidationInvalidValue(field string, message string) *Error {
	return New(ErrValidationInvalidValue, orDefault(message, "Invalid value for field: "+field), http.StatusBadRequest).
		WithDetails(map[string]any{"field": field})
}

func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

func RateLimitIP() *Error {
	return New(ErrRateLimitIP, "Rate limit exceeded - too many requests from your IP", http.StatusTooManyRequests)
}
