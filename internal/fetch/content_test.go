package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegrid-labs/ghshard/internal/domain"
	"github.com/sourcegrid-labs/ghshard/internal/ghclient"
	"github.com/sourcegrid-labs/ghshard/internal/store"
)

type stubTokenProvider struct{}

func (stubTokenProvider) GetToken(_ context.Context) (string, error) { return "tok", nil }

func newTestFetch(t *testing.T, handler http.HandlerFunc) (*store.Store, *ghclient.Client, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := store.New(filepath.Join(t.TempDir(), "files.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := ghclient.New(stubTokenProvider{}, nil, false)
	require.NoError(t, client.SetBaseURL(context.Background(), srv.URL+"/"))

	return s, client, t.TempDir()
}

func fileContentJSON(encodedContent, sha string) string {
	return fmt.Sprintf(`{"type":"file","encoding":"base64","content":%q,"sha":%q,"name":"file.go","path":"file.go"}`, encodedContent, sha)
}

func TestContentRun_FetchesAndWritesPendingFiles(t *testing.T) {
	body := "package main\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(body))

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, fileContentJSON(encoded, "sha1"))
	}
	s, client, contentDir := newTestFetch(t, handler)

	f := domain.FileRecord{Owner: "acme", Repo: "repo1", Ref: "main", Path: "file.go", SHA: "sha1", URL: "u1"}
	n, err := s.InsertFiles(context.Background(), []domain.FileRecord{f})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	c := NewContent(s, client)
	stats, err := c.Run(context.Background(), ContentOptions{ContentDir: contentDir, Strategy: StrategyREST})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, 0, stats.Skipped)

	written, err := os.ReadFile(filepath.Join(contentDir, f.ContentPath()))
	require.NoError(t, err)
	assert.Equal(t, body, string(written))

	pending, err := s.FilesPendingContent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestContentRun_SkipsFilesAlreadyOnDisk(t *testing.T) {
	called := false
	handler := func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}
	s, client, contentDir := newTestFetch(t, handler)

	f := domain.FileRecord{Owner: "acme", Repo: "repo1", Ref: "main", Path: "file.go", SHA: "sha1", URL: "u1"}
	_, err := s.InsertFiles(context.Background(), []domain.FileRecord{f})
	require.NoError(t, err)

	dest := filepath.Join(contentDir, f.ContentPath())
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("already here"), 0o644))

	c := NewContent(s, client)
	stats, err := c.Run(context.Background(), ContentOptions{ContentDir: contentDir, Strategy: StrategyREST})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AlreadyDone)
	assert.Equal(t, 0, stats.Done)
	assert.False(t, called, "a file already on disk must not trigger an API call")
}

func TestContentRun_RecordsPermanentErrorOn404(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}
	s, client, contentDir := newTestFetch(t, handler)

	f := domain.FileRecord{Owner: "acme", Repo: "repo1", Ref: "main", Path: "gone.go", SHA: "deadsha", URL: "u1"}
	_, err := s.InsertFiles(context.Background(), []domain.FileRecord{f})
	require.NoError(t, err)

	c := NewContent(s, client)
	stats, err := c.Run(context.Background(), ContentOptions{ContentDir: contentDir, Strategy: StrategyREST})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Done)
	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 404, stats.Errors[0].Status)

	pending, err := s.FilesPendingContent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "a permanently failed file must not stay PENDING")
}

func TestContentRun_NoPendingFilesIsNoop(t *testing.T) {
	called := false
	handler := func(w http.ResponseWriter, r *http.Request) {
		called = true
	}
	s, client, contentDir := newTestFetch(t, handler)

	c := NewContent(s, client)
	stats, err := c.Run(context.Background(), ContentOptions{ContentDir: contentDir, Strategy: StrategyREST})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.False(t, called)
}
