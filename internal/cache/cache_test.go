package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_StableAcrossParamOrder(t *testing.T) {
	k1 := Key("/search/code", map[string]string{"q": "foo", "per_page": "100"}, "", "")
	k2 := Key("/search/code", map[string]string{"per_page": "100", "q": "foo"}, "", "")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestKey_DiffersOnMethodAndBody(t *testing.T) {
	base := Key("/repos/o/r", nil, "", "")
	withMethod := Key("/repos/o/r", nil, "POST", "")
	withBody := Key("/repos/o/r", nil, "POST", `{"x":1}`)
	assert.NotEqual(t, base, withMethod)
	assert.NotEqual(t, withMethod, withBody)
}

func TestBare_RoundTrip(t *testing.T) {
	c := New(t.TempDir())
	key := Key("/x", nil, "", "")

	_, ok := c.GetBare(key)
	assert.False(t, ok)

	c.SetBare(key, json.RawMessage(`{"sha":"abc"}`))

	body, ok := c.GetBare(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"sha":"abc"}`, string(body))
	assert.EqualValues(t, 1, c.Hits())
}

func TestGetOrFillBare_WritesThroughOnCacheable(t *testing.T) {
	c := New(t.TempDir())
	key := "k1"
	calls := 0

	fetch := func() (json.RawMessage, bool, error) {
		calls++
		return json.RawMessage(`{"n":1}`), true, nil
	}

	body1, err := c.GetOrFillBare(key, false, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(body1))
	assert.Equal(t, 1, calls)

	// Second call should hit the cache, not invoke fetch again.
	body2, err := c.GetOrFillBare(key, false, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, string(body1), string(body2))
	assert.Equal(t, 1, calls, "second call should not re-fetch")
}

func TestGetOrFillBare_NonCacheableNeverWritten(t *testing.T) {
	c := New(t.TempDir())
	key := "k2"

	_, err := c.GetOrFillBare(key, false, func() (json.RawMessage, bool, error) {
		return json.RawMessage(`{"transient":true}`), false, nil
	})
	require.NoError(t, err)

	_, ok := c.GetBare(key)
	assert.False(t, ok, "non-cacheable responses must not be written")
}

func TestGetOrFillBare_SkipReadStillWrites(t *testing.T) {
	c := New(t.TempDir())
	key := "k3"

	_, err := c.GetOrFillBare(key, true, func() (json.RawMessage, bool, error) {
		return json.RawMessage(`{"fresh":true}`), true, nil
	})
	require.NoError(t, err)

	// A subsequent call without skip-cache must now return from cache.
	calls := 0
	body, err := c.GetOrFillBare(key, false, func() (json.RawMessage, bool, error) {
		calls++
		return json.RawMessage(`{"should":"not happen"}`), true, nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fresh":true}`, string(body))
	assert.Equal(t, 0, calls)
}

func TestGetOrFillBare_PropagatesFetchError(t *testing.T) {
	c := New(t.TempDir())
	wantErr := errors.New("boom")

	_, err := c.GetOrFillBare("k4", false, func() (json.RawMessage, bool, error) {
		return nil, false, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestWrapped_OnlySuccessCached(t *testing.T) {
	c := New(t.TempDir())

	entry, err := c.GetOrFillWrapped("w1", false, func() (WrappedEntry, error) {
		return WrappedEntry{Status: 404, Body: json.RawMessage(`{}`)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 404, entry.Status)

	_, ok := c.GetWrapped("w1")
	assert.False(t, ok, "non-2xx wrapped responses must not be cached")

	_, err = c.GetOrFillWrapped("w1", false, func() (WrappedEntry, error) {
		return WrappedEntry{Status: 200, Body: json.RawMessage(`{"ok":true}`)}, nil
	})
	require.NoError(t, err)

	cached, ok := c.GetWrapped("w1")
	require.True(t, ok)
	assert.Equal(t, 200, cached.Status)
}

func TestReadFile_CorruptDegradesToMiss(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	key := Key("/y", nil, "", "")

	err := os.WriteFile(filepath.Join(dir, key+".json"), []byte("not json"), 0o600)
	require.NoError(t, err)

	_, ok := c.GetBare(key)
	assert.False(t, ok)
}
