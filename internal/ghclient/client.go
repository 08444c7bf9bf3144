package ghclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/sourcegrid-labs/ghshard/internal/cache"
	"github.com/sourcegrid-labs/ghshard/internal/logger"
)

const (
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 30 * time.Second

	// MaxServerErrorAttempts is the ceiling on 5xx/network retries
	// before the error is surfaced to the caller, per spec.md §4.2.
	MaxServerErrorAttempts = 5

	// initialServerBackoff is the starting delay for the 5xx/network
	// backoff, doubling on each attempt.
	initialServerBackoff = 2 * time.Second

	// fallbackRateLimitWait is used when a rate-limited response
	// carries neither Retry-After nor a usable reset time.
	fallbackRateLimitWait = 60 * time.Second
)

// TokenProvider supplies the bearer token used to authenticate every
// request. A local interface, rather than a shared ports package,
// because this client has no other driven dependency to share it with.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// Client is the single rate-limited, cached entry point onto the host
// API. Every other component reaches the network only through it.
type Client struct {
	gh   *gh.Client
	http *http.Client

	token TokenProvider

	restLimiter  *RateLimiter
	graphLimiter *RateLimiter

	cache     *cache.Cache
	skipCache bool

	graphqlURL string
}

// New constructs a Client. cache may be nil, in which case every method
// falls through to the network on every call (used by tests that don't
// care about caching). skipCache mirrors the --skip-cache flag: reads
// are bypassed but writes still happen, priming the cache for later runs.
func New(token TokenProvider, c *cache.Cache, skipCache bool) *Client {
	return &Client{
		token:        token,
		restLimiter:  NewRateLimiter(RESTRate, 5000),
		graphLimiter: NewRateLimiter(GraphRate, 2000),
		cache:        c,
		skipCache:    skipCache,
		graphqlURL:   "https://api.github.com/graphql",
	}
}

// ensure lazily builds the oauth2-wrapped http.Client and go-github
// client once the token is available, mirroring the teacher's
// connector client's lazy-init pattern.
func (c *Client) ensure(ctx context.Context) error {
	if c.gh != nil {
		return nil
	}
	token, err := c.token.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("ghclient: get token: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = DefaultTimeout
	c.http = tc
	c.gh = gh.NewClient(tc)
	return nil
}

// restAttempt is the shape of a single go-github call site: issue the
// request, return its raw *gh.Response for rate-limit bookkeeping.
type restAttempt func() (*gh.Response, error)

// doREST runs attempt under the REST throttle and the retry policy of
// spec.md §4.2: rate-limited responses are retried unboundedly (honoring
// Retry-After, else the reported reset window, else a 60s fallback);
// 5xx/network errors are retried with base-2s exponential backoff up to
// MaxServerErrorAttempts before being surfaced; any other 4xx is
// surfaced immediately as a permanent APIError.
func (c *Client) doREST(ctx context.Context, endpoint string, attempt restAttempt) error {
	backoff := initialServerBackoff
	serverAttempts := 0

	for {
		if err := c.restLimiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := attempt()
		c.restLimiter.UpdateFromResponse(rawResponse(resp))

		if err == nil {
			return nil
		}

		if wait, ok := rateLimitWait(err); ok {
			c.restLimiter.NoteRateLimited(wait)
			logger.Debug("ghclient: rate limited on %s, waiting %s", endpoint, wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		status := errStatusCode(err)
		if status >= 500 || status == 0 {
			serverAttempts++
			if serverAttempts > MaxServerErrorAttempts {
				return &APIError{StatusCode: status, Message: err.Error(), Endpoint: endpoint}
			}
			logger.Debug("ghclient: server error on %s (attempt %d): %v", endpoint, serverAttempts, err)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			continue
		}

		return apiErrorFrom(err, endpoint, status)
	}
}

// SearchCode performs one page of a code search.
func (c *Client) SearchCode(ctx context.Context, query string, page, perPage int) (*gh.CodeSearchResult, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	key := cache.Key("/search/code", map[string]string{
		"q":        query,
		"page":     fmt.Sprintf("%d", page),
		"per_page": fmt.Sprintf("%d", perPage),
	}, "", "")

	entry, err := c.getOrFillWrapped(key, func() (cache.WrappedEntry, error) {
		opts := &gh.SearchOptions{ListOptions: gh.ListOptions{Page: page, PerPage: perPage}}
		var result *gh.CodeSearchResult
		restErr := c.doREST(ctx, "/search/code", func() (*gh.Response, error) {
			r, resp, err := c.gh.Search.Code(ctx, query, opts)
			result = r
			return resp, err
		})
		if restErr != nil {
			return cache.WrappedEntry{}, restErr
		}
		body, err := json.Marshal(result)
		if err != nil {
			return cache.WrappedEntry{}, fmt.Errorf("ghclient: marshal search result: %w", err)
		}
		return cache.WrappedEntry{Status: 200, Body: body}, nil
	})
	if err != nil {
		return nil, err
	}

	var result gh.CodeSearchResult
	if err := json.Unmarshal(entry.Body, &result); err != nil {
		return nil, fmt.Errorf("ghclient: unmarshal cached search result: %w", err)
	}
	return &result, nil
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	key := cache.Key(fmt.Sprintf("/repos/%s/%s", owner, repo), nil, "", "")

	entry, err := c.getOrFillWrapped(key, func() (cache.WrappedEntry, error) {
		var result *gh.Repository
		restErr := c.doREST(ctx, "/repos", func() (*gh.Response, error) {
			r, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
			result = r
			return resp, err
		})
		if restErr != nil {
			return cache.WrappedEntry{}, restErr
		}
		body, err := json.Marshal(result)
		if err != nil {
			return cache.WrappedEntry{}, fmt.Errorf("ghclient: marshal repository: %w", err)
		}
		return cache.WrappedEntry{Status: 200, Body: body}, nil
	})
	if err != nil {
		return nil, err
	}

	var repository gh.Repository
	if err := json.Unmarshal(entry.Body, &repository); err != nil {
		return nil, fmt.Errorf("ghclient: unmarshal cached repository: %w", err)
	}
	return &repository, nil
}

// ListCommits lists commits touching path on ref, one page at a time.
func (c *Client) ListCommits(ctx context.Context, owner, repo, path, ref string, page, perPage int) ([]*gh.RepositoryCommit, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/repos/%s/%s/commits", owner, repo)
	key := cache.Key(endpoint, map[string]string{
		"path":     path,
		"sha":      ref,
		"page":     fmt.Sprintf("%d", page),
		"per_page": fmt.Sprintf("%d", perPage),
	}, "", "")

	entry, err := c.getOrFillWrapped(key, func() (cache.WrappedEntry, error) {
		opts := &gh.CommitsListOptions{
			Path:        path,
			SHA:         ref,
			ListOptions: gh.ListOptions{Page: page, PerPage: perPage},
		}
		var result []*gh.RepositoryCommit
		restErr := c.doREST(ctx, endpoint, func() (*gh.Response, error) {
			r, resp, err := c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			result = r
			return resp, err
		})
		if restErr != nil {
			return cache.WrappedEntry{}, restErr
		}
		body, err := json.Marshal(result)
		if err != nil {
			return cache.WrappedEntry{}, fmt.Errorf("ghclient: marshal commits: %w", err)
		}
		return cache.WrappedEntry{Status: 200, Body: body}, nil
	})
	if err != nil {
		return nil, err
	}

	var commits []*gh.RepositoryCommit
	if err := json.Unmarshal(entry.Body, &commits); err != nil {
		return nil, fmt.Errorf("ghclient: unmarshal cached commits: %w", err)
	}
	return commits, nil
}

// GetBlob fetches a blob by its immutable SHA. Cached under the Bare
// schema: a 200 never changes for a fixed SHA, and per SPEC_FULL.md's
// Open Question resolution, a 404 is permanent too.
func (c *Client) GetBlob(ctx context.Context, owner, repo, sha string) (*gh.Blob, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/repos/%s/%s/git/blobs/%s", owner, repo, sha)
	key := cache.Key(endpoint, nil, "", "")
	policy := cache.ImmutableLookupPolicy(404)

	body, err := c.getOrFillBare(key, func() (json.RawMessage, bool, error) {
		var result *gh.Blob
		status := 200
		restErr := c.doREST(ctx, endpoint, func() (*gh.Response, error) {
			r, resp, err := c.gh.Git.GetBlob(ctx, owner, repo, sha)
			result = r
			if resp != nil {
				status = resp.StatusCode
			}
			if IsNotFound(classifyRESTErr(err, endpoint)) {
				status = 404
			}
			return resp, err
		})
		if restErr != nil {
			if !IsNotFound(restErr) {
				return nil, false, restErr
			}
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, false, fmt.Errorf("ghclient: marshal blob: %w", err)
		}
		return raw, policy.ShouldCacheStatus(status), nil
	})
	if err != nil {
		return nil, err
	}
	// A cached-permanent 404 round-trips through the Bare cache as a
	// marshaled nil *gh.Blob, i.e. the literal JSON null — the cache
	// schema has no status field of its own to carry the distinction.
	if isNullBody(body) {
		return nil, &APIError{StatusCode: 404, Message: "blob not found", Endpoint: endpoint}
	}

	var blob gh.Blob
	if err := json.Unmarshal(body, &blob); err != nil {
		return nil, fmt.Errorf("ghclient: unmarshal cached blob: %w", err)
	}
	return &blob, nil
}

// GetFileContent fetches a file's content at path on ref. Cached under
// the Bare schema: a path within a ref, once that ref resolves to a
// commit, names immutable content — see SPEC_FULL.md's Open Question
// resolution.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) (*gh.RepositoryContent, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path)
	key := cache.Key(endpoint, map[string]string{"ref": ref}, "", "")
	policy := cache.ImmutableLookupPolicy(404)

	body, err := c.getOrFillBare(key, func() (json.RawMessage, bool, error) {
		var result *gh.RepositoryContent
		status := 200
		restErr := c.doREST(ctx, endpoint, func() (*gh.Response, error) {
			opts := &gh.RepositoryContentGetOptions{Ref: ref}
			content, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
			result = content
			if resp != nil {
				status = resp.StatusCode
			}
			if IsNotFound(classifyRESTErr(err, endpoint)) {
				status = 404
			}
			return resp, err
		})
		if restErr != nil {
			if !IsNotFound(restErr) {
				return nil, false, restErr
			}
		}
		if result == nil && restErr == nil {
			return nil, false, ErrNotAFile
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, false, fmt.Errorf("ghclient: marshal content: %w", err)
		}
		return raw, policy.ShouldCacheStatus(status), nil
	})
	if err != nil {
		return nil, err
	}
	if isNullBody(body) {
		return nil, &APIError{StatusCode: 404, Message: "content not found", Endpoint: endpoint}
	}

	var content gh.RepositoryContent
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("ghclient: unmarshal cached content: %w", err)
	}
	return &content, nil
}

// isNullBody reports whether body is the literal JSON null a marshaled
// nil result pointer produces.
func isNullBody(body json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(body), []byte("null"))
}

// DoRaw issues an ad hoc authenticated GET against endpoint (relative
// to the REST API root, no leading slash required) with params as its
// query string, returning the raw response body uninterpreted. It
// goes through go-github's own generic request/response plumbing
// rather than a typed method, for the "api" command's passthrough
// access to endpoints this client has no dedicated method for. Never
// cached: a caller reaching for this already wants the live response.
func (c *Client) DoRaw(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	u := strings.TrimPrefix(endpoint, "/")
	if len(params) > 0 {
		vals := url.Values{}
		for k, v := range params {
			vals.Set(k, v)
		}
		u = u + "?" + vals.Encode()
	}

	var raw json.RawMessage
	err := c.doREST(ctx, endpoint, func() (*gh.Response, error) {
		req, err := c.gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return c.gh.Do(ctx, req, &raw)
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// RateLimit reports the current quota for both buckets. Never cached —
// callers always want the live figure.
func (c *Client) RateLimit(ctx context.Context) (*gh.RateLimits, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	var limits *gh.RateLimits
	err := c.doREST(ctx, "/rate_limit", func() (*gh.Response, error) {
		l, resp, err := c.gh.RateLimit.Get(ctx)
		limits = l
		return resp, err
	})
	return limits, err
}

// SetBaseURL overrides the REST API base URL, for tests that stand up
// an httptest.Server in place of the host.
func (c *Client) SetBaseURL(ctx context.Context, raw string) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("ghclient: parse base url: %w", err)
	}
	c.gh.BaseURL = u
	return nil
}

// RESTLimiter exposes the REST-bucket limiter for diagnostics.
func (c *Client) RESTLimiter() *RateLimiter { return c.restLimiter }

// GraphLimiter exposes the graph-bucket limiter for diagnostics.
func (c *Client) GraphLimiter() *RateLimiter { return c.graphLimiter }

func (c *Client) getOrFillBare(key string, fetch cache.BareFetchFunc) (json.RawMessage, error) {
	if c.cache == nil {
		body, _, err := fetch()
		return body, err
	}
	return c.cache.GetOrFillBare(key, c.skipCache, fetch)
}

func (c *Client) getOrFillWrapped(key string, fetch cache.WrappedFetchFunc) (cache.WrappedEntry, error) {
	if c.cache == nil {
		return fetch()
	}
	return c.cache.GetOrFillWrapped(key, c.skipCache, fetch)
}

// rawResponse unwraps a go-github *gh.Response into the underlying
// *http.Response the RateLimiter reads headers from.
func rawResponse(resp *gh.Response) *http.Response {
	if resp == nil {
		return nil
	}
	return resp.Response
}

// sleepFunc is swappable in tests that need to exercise the retry loop
// without actually waiting out its backoff.
var sleepFunc = realSleep

func sleepCtx(ctx context.Context, d time.Duration) error {
	return sleepFunc(ctx, d)
}

// realSleep sleeps for d or returns ctx.Err() if ctx is cancelled first.
func realSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// rateLimitWait reports the duration to wait before retrying, and
// whether err represents a rate-limit outcome at all.
func rateLimitWait(err error) (time.Duration, bool) {
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		if abuse.RetryAfter != nil {
			return *abuse.RetryAfter, true
		}
		return fallbackRateLimitWait, true
	}

	var rl *gh.RateLimitError
	if errors.As(err, &rl) {
		wait := time.Until(rl.Rate.Reset.Time)
		if wait <= 0 {
			wait = fallbackRateLimitWait
		}
		return wait, true
	}

	return 0, false
}

// errStatusCode extracts the HTTP status code carried by a go-github
// error, or 0 if err is a transport-level failure with no response.
func errStatusCode(err error) int {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// apiErrorFrom converts a terminal go-github error into an *APIError.
func apiErrorFrom(err error, endpoint string, status int) *APIError {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		return &APIError{StatusCode: ghErr.Response.StatusCode, Message: ghErr.Message, Endpoint: endpoint}
	}
	return &APIError{StatusCode: status, Message: err.Error(), Endpoint: endpoint}
}

// classifyRESTErr is apiErrorFrom's read-only counterpart, used inline
// by call sites that need to recognize a 404 without abandoning the
// retry loop's own error handling.
func classifyRESTErr(err error, endpoint string) error {
	if err == nil {
		return nil
	}
	status := errStatusCode(err)
	return apiErrorFrom(err, endpoint, status)
}
