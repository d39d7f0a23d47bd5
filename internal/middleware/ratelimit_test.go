package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/cache/stats", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiter_GlobalLimit(t *testing.T) {
	rl := NewRateLimiter(1.0, 2, 10.0, 10)
	defer rl.Stop()
	handler := rl.Limit(okHandler())

	if rr := serveFrom(handler, "192.168.1.1:1234"); rr.Code != http.StatusOK {
		t.Errorf("First request failed: got %d", rr.Code)
	}
	if rr := serveFrom(handler, "192.168.1.1:1234"); rr.Code != http.StatusOK {
		t.Errorf("Second request (burst) failed: got %d", rr.Code)
	}
	rr := serveFrom(handler, "192.168.1.2:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited: got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestRateLimiter_PerIPLimit(t *testing.T) {
	rl := NewRateLimiter(100.0, 100, 1.0, 2)
	defer rl.Stop()
	handler := rl.Limit(okHandler())

	for i, addr := range []string{"192.168.1.1:1234", "192.168.1.1:5678"} {
		if rr := serveFrom(handler, addr); rr.Code != http.StatusOK {
			t.Errorf("request %d from IP1 failed: got %d", i+1, rr.Code)
		}
	}
	if rr := serveFrom(handler, "192.168.1.1:9999"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("Third request from IP1 should be rate limited: got %d", rr.Code)
	}
	if rr := serveFrom(handler, "192.168.1.2:1234"); rr.Code != http.StatusOK {
		t.Errorf("Request from IP2 failed: got %d", rr.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{"x-forwarded-for chain", "203.0.113.1, 198.51.100.1", "", "192.168.1.1:1234", "203.0.113.1"},
		{"x-real-ip", "", "203.0.113.9", "192.168.1.1:1234", "203.0.113.9"},
		{"remote addr", "", "", "192.168.1.1:1234", "192.168.1.1"},
		{"ipv6 remote addr", "", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"no port", "", "", "10.0.0.7", "10.0.0.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			req.RemoteAddr = tt.remoteAddr
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(10.0, 10, 10.0, 10)
	defer rl.Stop()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.limiterFor("192.168.1.1")
	now = now.Add(2 * time.Minute)
	rl.limiterFor("192.168.1.2")
	now = now.Add(2 * time.Minute)

	if n := rl.sweep(); n != 1 {
		t.Fatalf("expected 1 idle limiter swept, got %d", n)
	}
	rl.mu.Lock()
	_, kept := rl.perIP["192.168.1.2"]
	rl.mu.Unlock()
	if !kept {
		t.Error("recently seen limiter should be kept")
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1, 1)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100.0, 100, 10.0, 10)
	defer rl.Stop()
	handler := rl.Limit(okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				serveFrom(handler, fmt.Sprintf("192.168.1.%d:1234", n))
			}
		}(i)
	}
	wg.Wait()
}
