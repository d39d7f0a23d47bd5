package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxRequestBodySize is the maximum size of request bodies (10MB)
const MaxRequestBodySize = 10 * 1024 * 1024

// MaxSegmentLength bounds namespace and key path segments.
const MaxSegmentLength = 512

// LimitRequestBody caps PUT, POST and PATCH bodies at MaxRequestBodySize.
func LimitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// ValidateSegment checks a namespace or key taken from the URL.
func ValidateSegment(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if len(value) > MaxSegmentLength {
		return fmt.Errorf("%s too long (max %d bytes)", name, MaxSegmentLength)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s must be valid UTF-8", name)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return fmt.Errorf("%s contains control characters", name)
	}
	return nil
}

// ErrNotJSON is returned by DecodeJSON for a non-JSON content type.
var ErrNotJSON = errors.New("content type must be application/json")

// DecodeJSON decodes a single JSON document from the request body into dst.
// Unknown fields and trailing data are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return ErrNotJSON
		}
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: body must contain a single document")
	}
	return nil
}
