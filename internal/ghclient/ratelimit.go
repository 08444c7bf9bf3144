package ghclient

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// RESTRate is the steady-state REST throttle: 1.3 req/s holds
	// comfortably under the host's 5,000/hour authenticated limit
	// while avoiding the bursts that trigger secondary/abuse limits.
	RESTRate = 1.3

	// GraphRate is the steady-state graph throttle: 30 req/s holds
	// under the host's 2,000/minute secondary limit on the GraphQL
	// endpoint.
	GraphRate = 30.0

	// MinBuffer is the minimum remaining quota, per the reactive
	// X-RateLimit-Remaining header, before a call waits out the reset
	// window rather than risk a 403.
	MinBuffer = 50

	// HeaderRateLimit is the rate limit header.
	HeaderRateLimit = "X-RateLimit-Limit"

	// HeaderRateRemaining is the remaining requests header.
	HeaderRateRemaining = "X-RateLimit-Remaining"

	// HeaderRateReset is the reset timestamp header (Unix seconds).
	HeaderRateReset = "X-RateLimit-Reset"

	// HeaderRetryAfter is the retry-after header (seconds).
	HeaderRetryAfter = "Retry-After"
)

// nowFunc is swappable in tests that need a stubbed clock to exercise
// rate-limit-adherence and Retry-After scenarios deterministically.
var nowFunc = time.Now

// RateLimiter implements one token-bucket-plus-reactive-header family
// for one API family (REST or graph). C2 owns exactly two instances.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetTime time.Time
	bucket    *rate.Limiter
	minBuffer int
}

// NewRateLimiter creates a rate limiter proactively throttled at
// ratePerSecond, assuming full quota until the first response updates
// it.
func NewRateLimiter(ratePerSecond float64, quota int) *RateLimiter {
	return &RateLimiter{
		remaining: quota,
		limit:     quota,
		bucket:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		minBuffer: MinBuffer,
	}
}

// Wait blocks until it is safe to issue a request: first the proactive
// token bucket, then — only if the last response reported the quota
// is nearly exhausted — the reactive wait for the reset window.
// Callers only invoke Wait after a cache lookup has missed, so cache
// hits never wait here or consume a token.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if remaining < r.minBuffer && nowFunc().Before(resetTime) {
		wait := resetTime.Sub(nowFunc())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil
}

// UpdateFromResponse updates rate limit state from response headers.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v := resp.Header.Get(HeaderRateRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.remaining = n
		}
	}
	if v := resp.Header.Get(HeaderRateLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.limit = n
		}
	}
	if v := resp.Header.Get(HeaderRateReset); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.resetTime = time.Unix(n, 0)
		}
	}
}

// Remaining returns the last-reported remaining quota.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// Limit returns the last-reported quota ceiling.
func (r *RateLimiter) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit
}

// ResetTime returns the last-reported reset time.
func (r *RateLimiter) ResetTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetTime
}

// NoteRateLimited records that the host signaled rate limiting outside
// of the normal header flow (e.g. a bare 429), moving the reset time
// out to now+retryAfter if that is later than what headers last said;
// an earlier candidate leaves the reset time unchanged.
func (r *RateLimiter) NoteRateLimited(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	candidate := nowFunc().Add(retryAfter)
	if candidate.After(r.resetTime) {
		r.resetTime = candidate
	}
	r.remaining = 0
}
