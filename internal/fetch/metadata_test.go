package fetch

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegrid-labs/ghshard/internal/domain"
)

func repoJSON(stars int) string {
	return fmt.Sprintf(`{
		"description": "an example repo",
		"stargazers_count": %d,
		"forks_count": 3,
		"watchers_count": 4,
		"topics": ["go", "cli"],
		"license": {"spdx_id": "MIT"},
		"language": "Go",
		"default_branch": "main",
		"created_at": "2020-01-01T00:00:00Z",
		"updated_at": "2021-06-15T00:00:00Z",
		"pushed_at": "2021-06-20T00:00:00Z"
	}`, stars)
}

func TestMetadataRun_FetchesDistinctRepos(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, repoJSON(42))
	}
	s, client, _ := newTestFetch(t, handler)

	f := domain.FileRecord{Owner: "acme", Repo: "repo1", Ref: "main", Path: "file.go", SHA: "sha1", URL: "u1"}
	_, err := s.InsertFiles(context.Background(), []domain.FileRecord{f})
	require.NoError(t, err)

	m := NewMetadata(s, client)
	stats, err := m.Run(context.Background(), MetadataOptions{Strategy: StrategyREST})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Done)

	all, err := s.AllRepoMetadata(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 42, all[0].Stars)
	assert.Equal(t, "MIT", all[0].License)
	assert.ElementsMatch(t, []string{"go", "cli"}, all[0].Topics)
}

func TestMetadataRun_SkipsReposAlreadyFetched(t *testing.T) {
	called := false
	handler := func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}
	s, client, _ := newTestFetch(t, handler)

	f := domain.FileRecord{Owner: "acme", Repo: "repo1", Ref: "main", Path: "file.go", SHA: "sha1", URL: "u1"}
	_, err := s.InsertFiles(context.Background(), []domain.FileRecord{f})
	require.NoError(t, err)
	require.NoError(t, s.UpsertRepoMetadata(context.Background(), domain.RepoRecord{Owner: "acme", Repo: "repo1"}))

	m := NewMetadata(s, client)
	stats, err := m.Run(context.Background(), MetadataOptions{Strategy: StrategyREST})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AlreadyDone)
	assert.Equal(t, 0, stats.Done)
	assert.False(t, called)
}

func TestMetadataRun_RecordsPermanentErrorOn404(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}
	s, client, _ := newTestFetch(t, handler)

	f := domain.FileRecord{Owner: "acme", Repo: "gone", Ref: "main", Path: "file.go", SHA: "sha1", URL: "u1"}
	_, err := s.InsertFiles(context.Background(), []domain.FileRecord{f})
	require.NoError(t, err)

	m := NewMetadata(s, client)
	stats, err := m.Run(context.Background(), MetadataOptions{Strategy: StrategyREST})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 404, stats.Errors[0].Status)
}
