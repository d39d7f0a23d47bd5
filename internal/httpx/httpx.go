package httpx

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/cachemanager/internal/config"
	"github.com/onnwee/cachemanager/internal/logger"
	"github.com/onnwee/cachemanager/internal/metrics"
)

// ErrExhausted is returned when every attempt failed at the transport level.
var ErrExhausted = errors.New("exhausted retries")

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return an error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

// RetryPolicy bounds the retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	LogRetries  bool
}

// PolicyFromConfig derives the retry policy from application config.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.HTTPMaxRetries,
		BaseDelay:   cfg.HTTPRetryBase,
		LogRetries:  cfg.LogHTTPRetries,
	}
}

// DoWithRetryFactory wraps an HTTP request with lightweight retries, honoring Retry-After, using config.
func DoWithRetryFactory(ctx context.Context, client *http.Client, build func(ctx context.Context) (*http.Request, error), pre PreAttempt) (*http.Response, error) {
	return PolicyFromConfig(config.Load()).Do(ctx, client, build, pre, nil)
}

// DoWithRetryFactoryObs is like DoWithRetryFactory but reports attempts to an observer.
func DoWithRetryFactoryObs(ctx context.Context, client *http.Client, build func(ctx context.Context) (*http.Request, error), pre PreAttempt, obs Observer) (*http.Response, error) {
	return PolicyFromConfig(config.Load()).Do(ctx, client, build, pre, obs)
}

// Do runs build/send until a non-retryable outcome. 429 and 5xx responses
// are retried; the last one is returned to the caller once attempts run
// out. Waits are cut short when ctx is done.
func (p RetryPolicy) Do(ctx context.Context, client *http.Client, build func(ctx context.Context) (*http.Request, error), pre PreAttempt, obs Observer) (*http.Response, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log := logger.WithComponent("httpx")
	report := func(info AttemptInfo) {
		if obs != nil {
			obs(info)
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if pre != nil {
			if err := pre(ctx, attempt); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		info := AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String()}

		resp, err := client.Do(req)
		var wait time.Duration
		if err != nil {
			metrics.HTTPClientRequests.WithLabelValues("error").Inc()
			info.Err = err
			if attempt == maxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logAttempt(ctx, log, info, "no more retries")
				report(info)
				return nil, err
			}
		} else {
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				metrics.HTTPClientRequests.WithLabelValues("success").Inc()
				info.Status = resp.StatusCode
				if attempt > 1 {
					p.logAttempt(ctx, log, info, "success")
				}
				report(info)
				return resp, nil
			}
			metrics.HTTPClientRequests.WithLabelValues("retry").Inc()
			info.Status = resp.StatusCode
			if attempt == maxAttempts {
				p.logAttempt(ctx, log, info, "giving up")
				report(info)
				return resp, nil
			}
			if ra, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				metrics.HTTPClientRetryAfterWaits.Observe(ra.Seconds())
				wait = ra
			}
			resp.Body.Close()
		}

		metrics.HTTPClientRetries.Inc()
		if wait == 0 {
			jitter := time.Duration(rand.Intn(200)) * time.Millisecond
			wait = p.BaseDelay*time.Duration(attempt) + jitter
		}
		info.Wait = wait
		p.logAttempt(ctx, log, info, "backing off")
		report(info)

		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, ErrExhausted
}

func (p RetryPolicy) logAttempt(ctx context.Context, log *slog.Logger, info AttemptInfo, outcome string) {
	if !p.LogRetries {
		return
	}
	args := []any{"attempt", info.Attempt, "method", info.Method, "url", info.URL, "outcome", outcome}
	if info.Status != 0 {
		args = append(args, "status", info.Status)
	}
	if info.Wait > 0 {
		args = append(args, "wait", info.Wait)
	}
	if info.Err != nil {
		args = append(args, "error", info.Err)
	}
	log.InfoContext(ctx, "outbound request attempt", args...)
}

// retryAfter parses a Retry-After header given either as seconds or as an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
