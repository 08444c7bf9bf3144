package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegrid-labs/ghshard/internal/ghclient"
	"github.com/sourcegrid-labs/ghshard/internal/store"
)

type stubTokenProvider struct{}

func (stubTokenProvider) GetToken(_ context.Context) (string, error) { return "tok", nil }

type codeItem struct {
	path, sha, url string
}

func codeSearchJSON(total int, items []codeItem) string {
	type repoOwner struct {
		Login string `json:"login"`
	}
	type repo struct {
		Name          string    `json:"name"`
		Owner         repoOwner `json:"owner"`
		DefaultBranch string    `json:"default_branch"`
	}
	type result struct {
		Path       string `json:"path"`
		SHA        string `json:"sha"`
		HTMLURL    string `json:"html_url"`
		Repository repo   `json:"repository"`
	}
	results := make([]result, 0, len(items))
	for _, it := range items {
		results = append(results, result{
			Path: it.path, SHA: it.sha, HTMLURL: it.url,
			Repository: repo{Name: "repo1", Owner: repoOwner{Login: "acme"}, DefaultBranch: "main"},
		})
	}
	body, _ := json.Marshal(struct {
		TotalCount int      `json:"total_count"`
		Items      []result `json:"items"`
	}{TotalCount: total, Items: results})
	return string(body)
}

func newTestCollector(t *testing.T, handler http.HandlerFunc) (*Collector, *store.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := store.New(filepath.Join(t.TempDir(), "files.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := ghclient.New(stubTokenProvider{}, nil, false)
	require.NoError(t, client.SetBaseURL(context.Background(), srv.URL+"/"))

	return New(client, s), s, srv
}

func TestCollectChunk_PaginatesUntilExhausted(t *testing.T) {
	var pages int
	handler := func(w http.ResponseWriter, r *http.Request) {
		pages++
		page := r.URL.Query().Get("page")
		item := codeItem{path: fmt.Sprintf("file%s.go", page), sha: "sha" + page, url: "https://x/" + page}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, codeSearchJSON(3, []codeItem{item}))
	}
	c, _, _ := newTestCollector(t, handler)

	inserted, total, err := c.collectChunk(context.Background(), "size:0..99", DefaultMaxEmptyPageRetries)

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, inserted)
	assert.Equal(t, 3, pages)
}

func TestCollectChunk_RetriesEmptyPageThenSucceeds(t *testing.T) {
	var calls int
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		page := r.URL.Query().Get("page")
		if page == "2" && calls == 2 {
			// first attempt at page 2 comes back empty
			fmt.Fprint(w, codeSearchJSON(2, nil))
			return
		}
		item := codeItem{path: fmt.Sprintf("file%d.go", calls), sha: fmt.Sprintf("sha%d", calls), url: fmt.Sprintf("https://x/%d", calls)}
		fmt.Fprint(w, codeSearchJSON(2, []codeItem{item}))
	}
	c, _, _ := newTestCollector(t, handler)

	inserted, total, err := c.collectChunk(context.Background(), "size:0..99", DefaultMaxEmptyPageRetries)

	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, inserted)
}

func TestCollectChunk_GivesUpAfterMaxEmptyRetries(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		page := r.URL.Query().Get("page")
		if page == "1" {
			fmt.Fprint(w, codeSearchJSON(5, []codeItem{{path: "a.go", sha: "s1", url: "u1"}}))
			return
		}
		fmt.Fprint(w, codeSearchJSON(5, nil))
	}
	c, _, _ := newTestCollector(t, handler)

	inserted, total, err := c.collectChunk(context.Background(), "size:0..99", 2)

	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, 1, inserted, "only page 1's item should have been collected before giving up")
}

func TestRun_CompletesAndPersistsProgress(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query().Get("q")
		item := codeItem{path: "f.go", sha: q, url: "https://x/" + strings.ReplaceAll(q, " ", "_")}
		fmt.Fprint(w, codeSearchJSON(1, []codeItem{item}))
	}
	c, s, _ := newTestCollector(t, handler)

	stats, err := c.Run(context.Background(), Options{Query: "lang:go", MaxSize: 300, InitialWidth: 100})

	require.NoError(t, err)
	assert.EqualValues(t, 300, stats.FinalLo)
	assert.Greater(t, stats.ChunksProcessed, 0)

	progress, err := s.LoadScanProgress(context.Background(), "lang:go")
	require.NoError(t, err)
	require.NotNil(t, progress)
	require.NotNil(t, progress.CompletedAt)
	assert.EqualValues(t, 300, progress.LastLo)
}

func TestRun_SkipsAlreadyCompletedScan(t *testing.T) {
	called := false
	handler := func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}
	c, s, _ := newTestCollector(t, handler)

	now := time.Now().UTC()
	require.NoError(t, s.SaveScanProgress(context.Background(), store.ScanProgress{
		Query: "lang:go", LastLo: 1 << 20, MaxSize: 1 << 20, Width: 100, Collected: 7, CompletedAt: &now,
	}))

	stats, err := c.Run(context.Background(), Options{Query: "lang:go"})

	require.NoError(t, err)
	assert.False(t, called, "Run must not hit the host for an already-completed scan")
	assert.Equal(t, 7, stats.Collected)
}

func TestRun_SurfacesIrreducibleSaturationAtFloorWidth(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, codeSearchJSON(SaturationCap, []codeItem{{path: "a.go", sha: "s", url: "u"}}))
	}
	c, _, _ := newTestCollector(t, handler)

	_, err := c.Run(context.Background(), Options{Query: "lang:go", MaxSize: 10, InitialWidth: 1})

	require.Error(t, err)
	var sat *ErrIrreducibleSaturation
	require.ErrorAs(t, err, &sat)
	assert.Equal(t, SaturationCap, sat.Count)
}

var sizeRangeRe = regexp.MustCompile(`size:(\d+)\.\.(\d+)`)

func TestRun_NarrowsWidthOnSaturationBeforeFloor(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query().Get("q")
		// Only a width-1 chunk (lo == hi in the size: predicate) is
		// collectible; every wider chunk is saturated, forcing the
		// scan to halve its way down to the floor without erroring.
		m := sizeRangeRe.FindStringSubmatch(q)
		if len(m) == 3 && m[1] == m[2] {
			fmt.Fprint(w, codeSearchJSON(1, []codeItem{{path: "a.go", sha: "s", url: "u"}}))
			return
		}
		fmt.Fprint(w, codeSearchJSON(SaturationCap, []codeItem{{path: "b.go", sha: "s2", url: "u2"}}))
	}
	c, _, _ := newTestCollector(t, handler)

	stats, err := c.Run(context.Background(), Options{Query: "lang:go", MaxSize: 4, InitialWidth: 4})

	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.FinalLo)
}
