// Package domain defines the core record types collected and enriched
// by ghshard.
//
// This package is the innermost layer: it has no dependency on any
// other internal package and depends only on the standard library. The
// store, collector and fetch packages (C3 through C5) exchange values
// of these types across their package boundaries; the cache and the
// API client do not use them. The wire representation of any individual host response
// stays an opaque github.com/google/go-github type (or json.RawMessage)
// until it reaches the point where one of these records is built.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any other internal/ package, any external dependency
package domain
