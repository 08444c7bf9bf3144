// Package cache implements C1, the persistent response cache: a
// keyed, durable store mapping request fingerprints to prior host
// responses, shared across every run and command on a machine.
//
// Two schemas coexist, selected per call site by the caller rather
// than inferred: Bare stores a decoded JSON body with no expiry and a
// narrow, policy-controlled set of cached non-success outcomes, for
// data the caller treats as immutable (a blob at a content hash never
// changes). Wrapped stores {status, body, etag, link} with a 30-day
// expiry and only caches 2xx responses, for data with ordinary TTL
// semantics (a repository's star count changes).
package cache
