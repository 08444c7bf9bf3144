// Package fetch implements the batched enrichment fetchers: three
// passes — Content, Metadata, History — that each read the file set
// from the result store and fan out requests through the rate-limited
// API client, writing their output either to the content directory
// (Content) or to a JSON sidecar map keyed by a stable identifier
// (Metadata, History).
//
// Every pass supports two strategies: a per-item REST strategy that
// issues one request per file or repository, and a batched GraphQL
// strategy that synthesizes one aliased sub-selection per batch
// member to amortize round trips. In the Content pass both strategies
// share the same per-item state machine recorded in content_status: a
// file is either PENDING (no row), DONE, or SKIPPED after a permanent
// error. Metadata and History keep no such status: an item is pending
// until its repo_metadata or file_history row exists, and a skipped
// item leaves no row.
package fetch
