package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sourcegrid-labs/ghshard/internal/logger"
)

// WrappedEntry is the on-disk shape of a Wrapped-schema cache entry.
type WrappedEntry struct {
	Status    int             `json:"status"`
	Body      json.RawMessage `json:"body"`
	ETag      string          `json:"etag,omitempty"`
	Link      string          `json:"link,omitempty"`
	CachedAt  time.Time       `json:"cached_at"`
}

// WrappedTTL is the expiry window for Wrapped-schema entries.
const WrappedTTL = 30 * 24 * time.Hour

// Cache is a flat, content-addressed, on-disk store of prior host
// responses, shared across every run and command on a machine. It
// never evicts entries (spec.md's Non-goals explicitly exclude
// eviction) and is safe for concurrent writers of the same key: each
// write goes to a uniquely-named temp file and is installed with
// os.Rename, so one writer's content survives whole, never a mix of
// two partial writes.
type Cache struct {
	dir  string
	hits atomic.Int64
	mu   sync.Mutex // serializes directory creation, not entry writes
}

// New creates a Cache rooted at dir. The directory is created lazily
// on first write, not here, so constructing a Cache never touches the
// filesystem.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Hits returns the number of cache reads that returned a value.
func (c *Cache) Hits() int64 {
	return c.hits.Load()
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) ensureDir() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.MkdirAll(c.dir, 0o700)
}

// readFile returns the decoded top-level JSON value at key, or
// (nil, false) on any error — corrupt JSON, a missing file, or a
// concurrent writer caught mid-rename all degrade silently to a miss,
// per spec.md §4.1's failure semantics.
func (c *Cache) readFile(key string) (json.RawMessage, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	if !json.Valid(data) {
		return nil, false
	}
	return json.RawMessage(data), true
}

// writeFile installs data at key atomically: write-to-temp-then-rename.
// Write errors are logged and swallowed — a run must never fail
// because caching failed.
func (c *Cache) writeFile(key string, data []byte) {
	if err := c.ensureDir(); err != nil {
		logger.Warn("cache: create dir: %v", err)
		return
	}
	tmp := filepath.Join(c.dir, fmt.Sprintf(".%s.%s.tmp", key, uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		logger.Warn("cache: write temp file: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		logger.Warn("cache: rename temp file: %v", err)
		_ = os.Remove(tmp)
	}
}

// GetBare reads a Bare-schema entry: the decoded JSON body exactly as
// it was written, with no envelope.
func (c *Cache) GetBare(key string) (json.RawMessage, bool) {
	body, ok := c.readFile(key)
	if ok {
		c.hits.Add(1)
	}
	return body, ok
}

// SetBare writes a Bare-schema entry.
func (c *Cache) SetBare(key string, body json.RawMessage) {
	c.writeFile(key, body)
}

// GetWrapped reads a Wrapped-schema entry, treating one past its
// WrappedTTL as a miss.
func (c *Cache) GetWrapped(key string) (*WrappedEntry, bool) {
	raw, ok := c.readFile(key)
	if !ok {
		return nil, false
	}
	var entry WrappedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	if time.Since(entry.CachedAt) > WrappedTTL {
		return nil, false
	}
	c.hits.Add(1)
	return &entry, true
}

// SetWrapped writes a Wrapped-schema entry, stamping CachedAt with now.
func (c *Cache) SetWrapped(key string, entry WrappedEntry) {
	entry.CachedAt = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		logger.Warn("cache: marshal wrapped entry: %v", err)
		return
	}
	c.writeFile(key, data)
}

// BareFetchFunc performs the upstream call a Bare cache miss must
// fall through to. cacheable reports whether the caller wants this
// particular outcome (success or a specific, known-permanent failure)
// written back to the cache; body is nil-safe to return alongside a
// non-nil err.
type BareFetchFunc func() (body json.RawMessage, cacheable bool, err error)

// GetOrFillBare is the decorator spec.md §9 describes: the caller's
// method body invokes this with its own upstream fetch closure, and
// GetOrFillBare handles the read-check/write-through bookkeeping.
// skipRead bypasses the read (spec.md's skip_cache flag) without
// bypassing the write, so a skip-cache run still primes the cache for
// the next caller.
func (c *Cache) GetOrFillBare(key string, skipRead bool, fetch BareFetchFunc) (json.RawMessage, error) {
	if !skipRead {
		if body, ok := c.GetBare(key); ok {
			return body, nil
		}
	}
	body, cacheable, err := fetch()
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.SetBare(key, body)
	}
	return body, nil
}

// WrappedFetchFunc performs the upstream call a Wrapped cache miss
// must fall through to.
type WrappedFetchFunc func() (WrappedEntry, error)

// GetOrFillWrapped mirrors GetOrFillBare for the Wrapped schema: only
// 2xx responses are written back, per spec.md §4.1's Wrapped policy.
func (c *Cache) GetOrFillWrapped(key string, skipRead bool, fetch WrappedFetchFunc) (WrappedEntry, error) {
	if !skipRead {
		if entry, ok := c.GetWrapped(key); ok {
			return *entry, nil
		}
	}
	entry, err := fetch()
	if err != nil {
		return WrappedEntry{}, err
	}
	if entry.Status >= 200 && entry.Status < 300 {
		c.SetWrapped(key, entry)
	}
	return entry, nil
}

// ErrNotConfigured names the condition of a caller that requires a
// Cache but was constructed without one. Nothing in this module
// returns it: ghclient treats a nil Cache as a pass-through to the
// network.
var ErrNotConfigured = errors.New("cache: not configured")
