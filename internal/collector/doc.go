// Package collector implements the size-sharded path collector: a
// linear scan over the host's file-size axis with an adaptively
// widened or narrowed chunk, working around the host's fixed
// per-query result cap (1,000 hits) by never letting a single query
// see more hits than it can paginate through, and around the host's
// tendency to silently drop matches from size ranges that are "too
// wide" by keeping ranges as narrow as the observed density demands.
//
// The scan cursor (lo, width) and running collected count are
// persisted to the result store after every processed chunk, so an
// interrupted run resumes exactly where it left off.
package collector
