// Package cliutil holds the small pieces of ambient CLI plumbing
// shared by every command in internal/cli: mapping an error returned
// from a component down to a process exit code, and writing the
// map-keyed JSON sidecar dumps the fetch-metadata and fetch-history
// commands produce.
package cliutil
