// Package ghclient is the single rate-limited, cached entry point onto
// the host API. Every other component — the path collector and the
// enrichment fetchers — reaches the network only through a *Client.
//
// # Rate limiting
//
// Two independent [RateLimiter] instances guard the REST and GraphQL
// surfaces: a proactive token bucket (golang.org/x/time/rate) holds
// steady-state throughput under the host's published quota, and a
// reactive check against the last-seen X-RateLimit-Remaining/Reset
// headers pauses a caller before it would trip a secondary abuse
// limit. A bare 429 with no headers at all falls back to Retry-After
// or a fixed wait.
//
// # Retry policy
//
// [Client.doREST] classifies every non-nil error from a go-github call
// into one of three outcomes: rate-limited (retried unboundedly, the
// wait honoring Retry-After, then the reported reset window, then a
// fixed fallback), a 5xx/network failure (retried with exponential
// backoff up to a fixed attempt ceiling), or any other 4xx (returned
// immediately as a permanent *APIError).
//
// # Caching
//
// Lookups addressed by an immutable coordinate — a blob SHA, or a path
// within a ref — go through the cache's Bare schema, which may also
// retain a 404 as permanent. Everything else goes through the Wrapped
// schema with a fixed expiry. See internal/cache for the schemas
// themselves; this package only decides, per endpoint, which one
// applies.
package ghclient
