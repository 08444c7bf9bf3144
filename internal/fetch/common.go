package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Strategy selects how a pass fans work out to the host.
type Strategy int

const (
	// StrategyREST issues one request per item, the simple always-
	// correct baseline.
	StrategyREST Strategy = iota

	// StrategyGraphQL partitions the work set into batches and issues
	// one aliased graph query per batch.
	StrategyGraphQL
)

// DefaultWorkers is the bounded concurrency level for the per-item
// REST strategy's worker pool.
const DefaultWorkers = 10

// Stats summarizes one pass's outcome. Done counts items completed and
// Skipped counts items that hit a permanent error; an item that hits a
// transient error is counted in neither and stays pending. AlreadyDone
// counts items that were found already complete before any request
// was made.
type Stats struct {
	Done        int
	Skipped     int
	AlreadyDone int
	Errors      []ItemError
}

// ItemError records a permanent failure against a single item. Pass
// execution continues past it; it is never fatal to the run.
type ItemError struct {
	Item    string
	Status  int
	Message string
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Item, e.Status, e.Message)
}

// statsMu serializes updates to a Stats value shared across a worker
// pool or a sequence of batch calls, so callers can mutate it inline
// from whichever goroutine finishes a unit of work.
type statsMu struct {
	mu sync.Mutex
}

func (s *statsMu) add(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// isComplexityErr reports whether err is the host rejecting a GraphQL
// query for exceeding its complexity budget — the batched strategies
// recover from this by halving their batch size and retrying, rather
// than treating it as a fatal error.
func isComplexityErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "complex") || strings.Contains(msg, "too many") || strings.Contains(msg, "timeout")
}

// runPool runs work(item) for each item in items across a worker pool
// bounded at DefaultWorkers concurrent goroutines, generalizing the
// original's ThreadPoolExecutor(max_workers=10) into errgroup-based
// concurrency. The rate limiter inside the client each work func calls
// through remains the only true synchronization point; runPool itself
// imposes no other ordering.
func runPool(ctx context.Context, items []string, work func(ctx context.Context, item string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultWorkers)

	for _, item := range items {
		item := item
		g.Go(func() error {
			return work(ctx, item)
		})
	}
	return g.Wait()
}
