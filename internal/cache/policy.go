package cache

// BarePolicy decides which non-success statuses a Bare-schema caller
// may cache alongside its ordinary 2xx bodies. spec.md §9 leaves the
// exact set an Open Question; SPEC_FULL.md resolves it to exactly the
// lookups addressed by an immutable coordinate, where a cached "not
// found" can never later become "found" for the same key.
type BarePolicy struct {
	cacheableStatuses map[int]struct{}
}

// ImmutableLookupPolicy caches any 2xx plus any status explicitly named as
// permanent-for-an-immutable-coordinate (typically just 404).
func ImmutableLookupPolicy(permanentStatuses ...int) BarePolicy {
	set := make(map[int]struct{}, len(permanentStatuses))
	for _, s := range permanentStatuses {
		set[s] = struct{}{}
	}
	return BarePolicy{cacheableStatuses: set}
}

// ShouldCacheStatus reports whether a response with the given status
// should be written to the Bare cache.
func (p BarePolicy) ShouldCacheStatus(status int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	_, ok := p.cacheableStatuses[status]
	return ok
}
