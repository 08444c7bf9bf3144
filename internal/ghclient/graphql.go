package ghclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sourcegrid-labs/ghshard/internal/cache"
	"github.com/sourcegrid-labs/ghshard/internal/logger"
)

// graphQLRequest is the standard POST body every graph query uses.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the opaque envelope every graph response uses;
// Data stays json.RawMessage since its shape is query-specific and is
// only unmarshaled by the caller that knows the query it sent.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// DoGraphQL issues query against the graph endpoint, under the graph
// rate bucket and the same cache (keyed over the query text and
// variables, since no GraphQL client library exists anywhere in the
// retrieval pack to generate a stable operation name) and retry policy
// REST calls get. A non-empty "errors" array in an otherwise-200
// response is surfaced as ErrGraphQL rather than retried, since a
// malformed or over-complex query will never succeed by retrying.
func (c *Client) DoGraphQL(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("ghclient: marshal graphql variables: %w", err)
	}
	key := cache.GraphQLKey("/graphql", query, string(varsJSON))

	entry, err := c.getOrFillWrapped(key, func() (cache.WrappedEntry, error) {
		var data json.RawMessage
		restErr := c.doGraphQLRequest(ctx, query, variables, &data)
		if restErr != nil {
			return cache.WrappedEntry{}, restErr
		}
		return cache.WrappedEntry{Status: 200, Body: data}, nil
	})
	if err != nil {
		return nil, err
	}
	return entry.Body, nil
}

func (c *Client) doGraphQLRequest(ctx context.Context, query string, variables map[string]any, out *json.RawMessage) error {
	backoff := initialServerBackoff
	serverAttempts := 0

	for {
		if err := c.graphLimiter.Wait(ctx); err != nil {
			return err
		}

		resp, body, err := c.postGraphQL(ctx, query, variables)
		c.graphLimiter.UpdateFromResponse(resp)

		if err != nil {
			serverAttempts++
			if serverAttempts > MaxServerErrorAttempts {
				return fmt.Errorf("ghclient: graphql request: %w", err)
			}
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			continue
		}

		status := resp.StatusCode
		if status == http.StatusTooManyRequests || status == http.StatusForbidden {
			wait := retryAfter(resp)
			c.graphLimiter.NoteRateLimited(wait)
			logger.Debug("ghclient: graphql rate limited, waiting %s", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if status >= 500 {
			serverAttempts++
			if serverAttempts > MaxServerErrorAttempts {
				return &APIError{StatusCode: status, Message: string(body), Endpoint: "/graphql"}
			}
			logger.Debug("ghclient: graphql server error (attempt %d): status %d", serverAttempts, status)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			continue
		}

		if status >= 400 {
			return &APIError{StatusCode: status, Message: string(body), Endpoint: "/graphql"}
		}

		var envelope graphQLResponse
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("ghclient: decode graphql response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("%w: %s", ErrGraphQL, envelope.Errors[0].Message)
		}
		*out = envelope.Data
		return nil
	}
}

func (c *Client) postGraphQL(ctx context.Context, query string, variables map[string]any) (*http.Response, []byte, error) {
	reqBody, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, nil, fmt.Errorf("ghclient: marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, fmt.Errorf("ghclient: build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ghclient: graphql transport: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("ghclient: read graphql response body: %w", err)
	}
	return resp, body, nil
}

// retryAfter reads the Retry-After header in seconds, falling back to
// fallbackRateLimitWait when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return fallbackRateLimitWait
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return fallbackRateLimitWait
	}
	return time.Duration(secs) * time.Second
}
