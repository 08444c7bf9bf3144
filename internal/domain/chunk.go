package domain

import "fmt"

// SearchChunk is an ephemeral half-open byte-size interval [Lo, Hi)
// used as a predicate on the host's search query, plus the result
// count the host reported when the unpaginated query was issued. It
// lives only for the duration of one collector scan step; nothing
// persists a SearchChunk value directly, only the cursor (Lo, width)
// derived from a sequence of them.
type SearchChunk struct {
	Lo            uint64
	Hi            uint64
	ReportedCount int
}

// Width returns Hi-Lo.
func (c SearchChunk) Width() uint64 {
	if c.Hi < c.Lo {
		return 0
	}
	return c.Hi - c.Lo
}

// SizeQuery returns the "size:lo..hi-1" predicate fragment for this
// chunk, matching the inclusive-bounds syntax the host's code search
// expects.
func (c SearchChunk) SizeQuery() string {
	hi := c.Hi
	if hi > c.Lo {
		hi--
	}
	return fmt.Sprintf("size:%d..%d", c.Lo, hi)
}

// Saturated reports whether the chunk's reported count met or exceeded
// the host's per-query result cap.
func (c SearchChunk) Saturated(cap int) bool {
	return c.ReportedCount >= cap
}
