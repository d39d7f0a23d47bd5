package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestETag(t *testing.T) {
	body := `["profile:u1::0","session:abc::0"]`
	handler := ETag(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest("GET", "/api/cache/keys", nil))

	etag := first.Header().Get("ETag")
	if first.Code != http.StatusOK || etag == "" {
		t.Fatalf("expected 200 with ETag, got %d %q", first.Code, etag)
	}
	if first.Body.String() != body {
		t.Errorf("body mismatch: %q", first.Body.String())
	}
	if cc := first.Header().Get("Cache-Control"); cc != "private, no-cache" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}

	tests := []struct {
		name        string
		ifNoneMatch string
		wantStatus  int
	}{
		{"matching", etag, http.StatusNotModified},
		{"weak matching", "W/" + etag, http.StatusNotModified},
		{"list containing", `"other", ` + etag, http.StatusNotModified},
		{"wildcard", "*", http.StatusNotModified},
		{"different", `"different-etag"`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/cache/keys", nil)
			req.Header.Set("If-None-Match", tt.ifNoneMatch)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus == http.StatusNotModified && rr.Body.Len() != 0 {
				t.Error("304 must not carry a body")
			}
		})
	}
}

func TestETag_NonOKPassesThrough(t *testing.T) {
	handler := ETag(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{}}`))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/cache/entries/a/b", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr.Header().Get("ETag") != "" {
		t.Error("error responses must not carry an ETag")
	}
	if rr.Body.String() != `{"error":{}}` {
		t.Errorf("body lost: %q", rr.Body.String())
	}
}

func TestETag_SkipsNonGET(t *testing.T) {
	handler := ETag(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/cache", nil))
	if rr.Header().Get("ETag") != "" || rr.Code != http.StatusNoContent {
		t.Errorf("DELETE should pass through, got %d etag=%q", rr.Code, rr.Header().Get("ETag"))
	}
}
