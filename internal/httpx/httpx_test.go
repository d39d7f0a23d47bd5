package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/cachemanager/internal/config"
)

func getRequest(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func useRetryEnv(t *testing.T, maxRetries, baseMS string) {
	t.Setenv("HTTP_MAX_RETRIES", maxRetries)
	t.Setenv("HTTP_RETRY_BASE_MS", baseMS)
	// reset cached config so env takes effect
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)
}

func TestDoWithRetry_RespectsRetryAfterSeconds(t *testing.T) {
	useRetryEnv(t, "2", "1")

	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	start := time.Now()
	resp, err := DoWithRetryFactory(context.Background(), ts.Client(), getRequest(ts.URL), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond, "expected to wait for Retry-After")
}

func TestDoWithRetry_StopsOnSuccess(t *testing.T) {
	useRetryEnv(t, "3", "1")

	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	resp, err := DoWithRetryFactory(context.Background(), ts.Client(), getRequest(ts.URL), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDoWithRetry_ObserverAndBackoffOn5xx(t *testing.T) {
	useRetryEnv(t, "3", "5")

	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var preCalls []int
	pre := func(ctx context.Context, attempt int) error {
		preCalls = append(preCalls, attempt)
		return nil
	}
	var observed []AttemptInfo
	obs := func(info AttemptInfo) { observed = append(observed, info) }

	start := time.Now()
	resp, err := DoWithRetryFactoryObs(context.Background(), ts.Client(), getRequest(ts.URL), pre, obs)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int{1, 2, 3}, preCalls)
	// 5ms + 10ms of base backoff before jitter
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	require.Len(t, observed, 3)
	assert.Greater(t, observed[0].Wait, time.Duration(0))
	assert.Equal(t, http.StatusInternalServerError, observed[0].Status)
	assert.Equal(t, http.StatusOK, observed[2].Status)
}

func TestDoWithRetry_MaxRetriesExceeded(t *testing.T) {
	useRetryEnv(t, "2", "1")

	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	// The last 5xx response is handed back rather than turned into an error.
	resp, err := DoWithRetryFactory(context.Background(), ts.Client(), getRequest(ts.URL), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestDoWithRetry_ContextCanceled(t *testing.T) {
	useRetryEnv(t, "3", "100")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DoWithRetryFactory(ctx, ts.Client(), getRequest(ts.URL), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithRetry_CancelDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
	start := time.Now()
	_, err := policy.Do(ctx, ts.Client(), getRequest(ts.URL), nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDoWithRetry_PreAttemptAborts(t *testing.T) {
	boom := errors.New("limiter closed")
	policy := RetryPolicy{MaxAttempts: 3}
	_, err := policy.Do(context.Background(), http.DefaultClient, getRequest("http://127.0.0.1:1"),
		func(context.Context, int) error { return boom }, nil)
	assert.ErrorIs(t, err, boom)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"empty", "", 0, false},
		{"seconds", "3", 3 * time.Second, true},
		{"zero seconds", "0", 0, false},
		{"negative", "-1", 0, false},
		{"http date", now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0, false},
		{"garbage", "soon", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := retryAfter(tc.header, now)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := &config.Config{HTTPMaxRetries: 4, HTTPRetryBase: 250 * time.Millisecond, LogHTTPRetries: true}
	assert.Equal(t, RetryPolicy{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, LogRetries: true}, PolicyFromConfig(cfg))
}
