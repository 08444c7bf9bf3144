package ghclient

import (
	"errors"
	"fmt"
	"time"
)

// Client-level sentinel errors.
var (
	// ErrInvalidCursor indicates a malformed scan cursor.
	ErrInvalidCursor = errors.New("ghclient: invalid cursor format")

	// ErrNotAFile indicates a contents lookup resolved to a directory.
	ErrNotAFile = errors.New("ghclient: path is a directory, not a file")

	// ErrGraphQL indicates the host's GraphQL endpoint returned a
	// top-level errors array alongside (or instead of) data.
	ErrGraphQL = errors.New("ghclient: graphql endpoint returned errors")
)

// RateLimitError represents a rate-limit-exceeded outcome with its
// reset time. The retry loops in doREST and doGraphQLRequest do not
// construct it: they classify go-github's own rate-limit errors and
// raw 429/403 statuses, and retry those internally.
type RateLimitError struct {
	ResetAt   time.Time
	Remaining int
	Limit     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("ghclient: rate limited, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// APIError represents a host API error response that is not a rate
// limit — either a permanent per-item failure (404, 422) surfaced to
// the caller, or a 5xx that the retry loop has exhausted its attempts
// on.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghclient: API error %d on %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// IsNotFound reports whether err represents a 404 from the host.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsRateLimited reports whether err is a RateLimitError.
func IsRateLimited(err error) bool {
	var rateLimitErr *RateLimitError
	return errors.As(err, &rateLimitErr)
}

// IsUnauthorized reports whether err represents a 401 from the host.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}

// IsServerError reports whether err represents a 5xx from the host —
// the class that is retried with bounded exponential backoff, per
// spec.md §4.2.
func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}
