package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key derives the 16-hex-character cache key for a request: the hex
// encoding of the first 8 bytes of SHA-256 over the canonical string
// "endpoint|k1=v1&k2=v2&...", with params sorted by key. method and
// body are appended only when non-default (method != GET, or body
// non-empty), so a plain GET's key is stable across call sites that
// never set them — matching spec.md's "method/body appended when
// non-default."
//
// The same derivation, extended with the GraphQL query text and
// variables, is used by the graph path; Key is agnostic to which
// caller it serves as long as params already encodes every dimension
// that should distinguish two requests.
func Key(endpoint string, params map[string]string, method, body string) string {
	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte('|')

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	if method != "" && method != "GET" {
		b.WriteString("|method=")
		b.WriteString(method)
	}
	if body != "" {
		b.WriteString("|body=")
		b.WriteString(body)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// GraphQLKey derives a cache key for a graph-path request, folding the
// query text and variables into the canonical string alongside the
// endpoint, per spec.md §4.2: "Request payload hashing uses the same
// canonicalization as REST, extended to include the query text and
// variables."
func GraphQLKey(endpoint, query, variablesJSON string) string {
	return Key(endpoint, map[string]string{
		"query":     query,
		"variables": variablesJSON,
	}, "", "")
}
