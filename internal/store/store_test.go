package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegrid-labs/ghshard/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "files.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Greater(t, count, 0)

	for _, table := range []string{"files", "repo_metadata", "file_history", "content_status", "scan_progress"} {
		var exists int
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "table %s should exist", table)
	}
}

func TestInsertFiles_DedupesOnUniqueKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "a.go", SHA: "sha1", Size: 10, URL: "u"}

	n, err := s.InsertFiles(ctx, []domain.FileRecord{f})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.InsertFiles(ctx, []domain.FileRecord{f})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "re-inserting the same key must not count as new")

	count, err := s.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertFiles_Empty(t *testing.T) {
	s := newTestStore(t)
	n, err := s.InsertFiles(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInsertFiles_MixedNewAndDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f1 := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "a.go", SHA: "s1", URL: "u1"}
	_, err := s.InsertFiles(ctx, []domain.FileRecord{f1})
	require.NoError(t, err)

	f2 := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "b.go", SHA: "s2", URL: "u2"}
	n, err := s.InsertFiles(ctx, []domain.FileRecord{f1, f2})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the new record should count")

	count, err := s.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFilesPendingContent_ExcludesTerminalRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f1 := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "a.go", SHA: "s1", URL: "u1"}
	f2 := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "b.go", SHA: "s2", URL: "u2"}
	_, err := s.InsertFiles(ctx, []domain.FileRecord{f1, f2})
	require.NoError(t, err)

	require.NoError(t, s.SetContentStatus(ctx, f1, "done"))

	pending, err := s.FilesPendingContent(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f2.Path, pending[0].Path)
}

func TestSetContentStatus_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "a.go", SHA: "s1", URL: "u1"}
	_, err := s.InsertFiles(ctx, []domain.FileRecord{f})
	require.NoError(t, err)

	require.NoError(t, s.SetContentStatus(ctx, f, "error"))
	require.NoError(t, s.SetContentStatus(ctx, f, "done"))

	pending, err := s.FilesPendingContent(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAllFiles_ReturnsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	files := []domain.FileRecord{
		{Owner: "o", Repo: "r", Ref: "main", Path: "a.go", SHA: "s1", URL: "u1"},
		{Owner: "o", Repo: "r", Ref: "main", Path: "b.go", SHA: "s2", URL: "u2"},
	}
	_, err := s.InsertFiles(ctx, files)
	require.NoError(t, err)

	all, err := s.AllFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpsertRepoMetadata_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	r := domain.RepoRecord{
		Owner: "o", Repo: "r", Description: "desc", Stars: 5, Forks: 2, Watchers: 3,
		Topics: []string{"go", "cli"}, License: "MIT", Language: "Go", DefaultBranch: "main",
		CreatedAt: now, UpdatedAt: now, PushedAt: now,
	}
	require.NoError(t, s.UpsertRepoMetadata(ctx, r))

	all, err := s.AllRepoMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, r.Owner, all[0].Owner)
	assert.Equal(t, r.Stars, all[0].Stars)
	assert.ElementsMatch(t, r.Topics, all[0].Topics)
}

func TestUpsertRepoMetadata_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := domain.RepoRecord{Owner: "o", Repo: "r", Stars: 1}
	require.NoError(t, s.UpsertRepoMetadata(ctx, r))
	r.Stars = 99
	require.NoError(t, s.UpsertRepoMetadata(ctx, r))

	all, err := s.AllRepoMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 99, all[0].Stars)
}

func TestDistinctRepos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	files := []domain.FileRecord{
		{Owner: "o", Repo: "r1", Ref: "main", Path: "a.go", SHA: "s"},
		{Owner: "o", Repo: "r1", Ref: "main", Path: "b.go", SHA: "s"},
		{Owner: "o", Repo: "r2", Ref: "main", Path: "c.go", SHA: "s"},
	}
	_, err := s.InsertFiles(ctx, files)
	require.NoError(t, err)

	repos, err := s.DistinctRepos(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}

func TestUpsertFileHistory_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	f := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "a.go", SHA: "s", URL: "https://example/a.go"}
	_, err := s.InsertFiles(ctx, []domain.FileRecord{f})
	require.NoError(t, err)

	h := domain.FileHistory{
		FirstCommitAt: now.Add(-time.Hour), LastCommitAt: now,
		Authors: []string{"alice", "bob"}, CommitCount: 2,
		Commits: []domain.Commit{{SHA: "c1", Author: "alice", Message: "init", Date: now.Add(-time.Hour)}},
	}
	require.NoError(t, s.UpsertFileHistory(ctx, f, h))

	all, err := s.AllFileHistory(ctx)
	require.NoError(t, err)
	got, ok := all[f.URL]
	require.True(t, ok)
	assert.Equal(t, 2, got.CommitCount)
	assert.ElementsMatch(t, h.Authors, got.Authors)
	require.Len(t, got.Commits, 1)
	assert.Equal(t, "c1", got.Commits[0].SHA)
}

func TestUpsertFileHistory_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := domain.FileRecord{Owner: "o", Repo: "r", Ref: "main", Path: "a.go", SHA: "s", URL: "u"}
	_, err := s.InsertFiles(ctx, []domain.FileRecord{f})
	require.NoError(t, err)

	require.NoError(t, s.UpsertFileHistory(ctx, f, domain.FileHistory{CommitCount: 1, Authors: []string{"alice"}}))
	require.NoError(t, s.UpsertFileHistory(ctx, f, domain.FileHistory{CommitCount: 5, Authors: []string{"bob"}}))

	all, err := s.AllFileHistory(ctx)
	require.NoError(t, err)
	got := all[f.URL]
	assert.Equal(t, 5, got.CommitCount)
	assert.Equal(t, []string{"bob"}, got.Authors)
}

func TestScanProgress_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	existing, err := s.LoadScanProgress(ctx, "lang:go")
	require.NoError(t, err)
	assert.Nil(t, existing)

	p := ScanProgress{Query: "lang:go", LastLo: 1000, MaxSize: 1 << 20, Width: 500, Collected: 42}
	require.NoError(t, s.SaveScanProgress(ctx, p))

	loaded, err := s.LoadScanProgress(ctx, "lang:go")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, p.LastLo, loaded.LastLo)
	assert.Equal(t, p.Collected, loaded.Collected)
	assert.Nil(t, loaded.CompletedAt)
}

func TestScanProgress_UpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := ScanProgress{Query: "lang:go", LastLo: 0, MaxSize: 1 << 20, Width: 500, Collected: 0}
	require.NoError(t, s.SaveScanProgress(ctx, p))

	p.LastLo = 5000
	p.Collected = 10
	require.NoError(t, s.SaveScanProgress(ctx, p))

	loaded, err := s.LoadScanProgress(ctx, "lang:go")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.EqualValues(t, 5000, loaded.LastLo)
	assert.Equal(t, 10, loaded.Collected)
}

func TestScanProgress_CompletedAtPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	p := ScanProgress{Query: "lang:go", LastLo: 100, MaxSize: 1 << 20, Width: 500, Collected: 1, CompletedAt: &now}
	require.NoError(t, s.SaveScanProgress(ctx, p))

	loaded, err := s.LoadScanProgress(ctx, "lang:go")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NotNil(t, loaded.CompletedAt)
	assert.True(t, now.Equal(*loaded.CompletedAt))
}

func TestScanProgress_IsolatedByQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveScanProgress(ctx, ScanProgress{Query: "lang:go", LastLo: 1, MaxSize: 1, Width: 1}))
	require.NoError(t, s.SaveScanProgress(ctx, ScanProgress{Query: "lang:rust", LastLo: 2, MaxSize: 2, Width: 2}))

	goProgress, err := s.LoadScanProgress(ctx, "lang:go")
	require.NoError(t, err)
	rustProgress, err := s.LoadScanProgress(ctx, "lang:rust")
	require.NoError(t, err)

	require.NotNil(t, goProgress)
	require.NotNil(t, rustProgress)
	assert.EqualValues(t, 1, goProgress.LastLo)
	assert.EqualValues(t, 2, rustProgress.LastLo)
}

func TestMigrate_IsIdempotentAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "files.db")

	s1, err := New(dbPath)
	require.NoError(t, err)
	var version1 int
	require.NoError(t, s1.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version1))
	require.NoError(t, s1.Close())

	s2, err := New(dbPath)
	require.NoError(t, err)
	defer s2.Close()
	var version2 int
	require.NoError(t, s2.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version2))

	assert.Equal(t, version1, version2)
}

func TestIsUniqueConstraintErr(t *testing.T) {
	assert.False(t, isUniqueConstraintErr(nil))
	assert.False(t, isUniqueConstraintErr(assert.AnError))
}
