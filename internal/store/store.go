package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sourcegrid-labs/ghshard/internal/domain"
	"github.com/sourcegrid-labs/ghshard/internal/store/migrations"
)

// Store is the single SQLite-backed result store: discovered file
// paths, repository metadata, file history, per-item content status,
// and the resumable scan cursor all live in one database, opened
// exclusively by one process per spec.md §5.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if absent) the SQLite database at dbPath, in WAL
// mode with a busy timeout, and applies any pending migrations —
// exactly the teacher's NewStore pattern, generalized from a
// multi-purpose metadata store to this package's five tables.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("store: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending .up.sql migrations, tracked by version in
// schema_migrations — the teacher's exact versioning scheme.
func (s *Store) migrate(fsys embed.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// isUniqueConstraintErr reports whether err is a SQLite UNIQUE
// violation. modernc.org/sqlite surfaces this as a plain error whose
// message names the constraint, so call sites match on the string per
// spec.md §7's Integrity error class: duplicate inserts are counted
// as zero-new, never returned as an error.
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertFiles inserts newly discovered file records, ignoring any
// that violate the (owner, repo, ref, path) uniqueness invariant, and
// reports how many rows were actually new.
func (s *Store) InsertFiles(ctx context.Context, files []domain.FileRecord) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin insert files tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO files (owner, repo, ref, path, sha, size, url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare insert files: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, f := range files {
		res, err := stmt.ExecContext(ctx, f.Owner, f.Repo, f.Ref, f.Path, f.SHA, f.Size, f.URL)
		if err != nil {
			if isUniqueConstraintErr(err) {
				continue
			}
			return 0, fmt.Errorf("store: insert file %s: %w", f.Key(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("store: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit insert files tx: %w", err)
	}
	return inserted, nil
}

// CountFiles returns the total number of discovered file rows.
func (s *Store) CountFiles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count files: %w", err)
	}
	return count, nil
}

// FilesPendingContent returns files with no terminal content_status
// row, per spec.md §4.5's per-item state machine: PENDING means
// absent, and only PENDING items are selected for the next run.
func (s *Store) FilesPendingContent(ctx context.Context) ([]domain.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.owner, f.repo, f.ref, f.path, f.sha, f.size, f.url
		FROM files f
		LEFT JOIN content_status cs
			ON cs.owner = f.owner AND cs.repo = f.repo AND cs.ref = f.ref AND cs.path = f.path
		WHERE cs.path IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query pending content: %w", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

// FilesPendingHistory returns files with no file_history row yet.
func (s *Store) FilesPendingHistory(ctx context.Context) ([]domain.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.owner, f.repo, f.ref, f.path, f.sha, f.size, f.url
		FROM files f
		LEFT JOIN file_history fh
			ON fh.owner = f.owner AND fh.repo = f.repo AND fh.ref = f.ref AND fh.path = f.path
		WHERE fh.path IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query pending history: %w", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

// AllFiles returns every discovered file record.
func (s *Store) AllFiles(ctx context.Context) ([]domain.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, repo, ref, path, sha, size, url FROM files
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query all files: %w", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

func scanFileRows(rows *sql.Rows) ([]domain.FileRecord, error) {
	var files []domain.FileRecord
	for rows.Next() {
		var f domain.FileRecord
		if err := rows.Scan(&f.Owner, &f.Repo, &f.Ref, &f.Path, &f.SHA, &f.Size, &f.URL); err != nil {
			return nil, fmt.Errorf("store: scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate files: %w", err)
	}
	return files, nil
}

// SetContentStatus records the terminal outcome of a content fetch
// attempt — "done" or "error" — against a single file. Only permanent
// outcomes are recorded; transient errors must leave no row, so the
// item stays PENDING for the next run.
func (s *Store) SetContentStatus(ctx context.Context, f domain.FileRecord, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_status (owner, repo, ref, path, status, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, repo, ref, path) DO UPDATE SET
			status = excluded.status,
			fetched_at = excluded.fetched_at
	`, f.Owner, f.Repo, f.Ref, f.Path, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: set content status for %s: %w", f.Key(), err)
	}
	return nil
}

// UpsertRepoMetadata stores or refreshes a repository's metadata.
func (s *Store) UpsertRepoMetadata(ctx context.Context, r domain.RepoRecord) error {
	topicsJSON, err := json.Marshal(r.Topics)
	if err != nil {
		return fmt.Errorf("store: marshal topics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repo_metadata (
			owner, repo, description, stars, forks, watchers, topics,
			license, language, default_branch, created_at, updated_at, pushed_at, fetched_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, repo) DO UPDATE SET
			description = excluded.description,
			stars = excluded.stars,
			forks = excluded.forks,
			watchers = excluded.watchers,
			topics = excluded.topics,
			license = excluded.license,
			language = excluded.language,
			default_branch = excluded.default_branch,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			pushed_at = excluded.pushed_at,
			fetched_at = excluded.fetched_at
	`, r.Owner, r.Repo, r.Description, r.Stars, r.Forks, r.Watchers, string(topicsJSON),
		r.License, r.Language, r.DefaultBranch, r.CreatedAt, r.UpdatedAt, r.PushedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: upsert repo metadata for %s: %w", r.Key(), err)
	}
	return nil
}

// DistinctRepos returns every distinct (owner, repo) pair named by a
// discovered file — the fan-out set for the metadata enrichment pass.
func (s *Store) DistinctRepos(ctx context.Context) ([]domain.RepoRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT owner, repo FROM files")
	if err != nil {
		return nil, fmt.Errorf("store: query distinct repos: %w", err)
	}
	defer rows.Close()

	var repos []domain.RepoRecord
	for rows.Next() {
		var r domain.RepoRecord
		if err := rows.Scan(&r.Owner, &r.Repo); err != nil {
			return nil, fmt.Errorf("store: scan distinct repo: %w", err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate distinct repos: %w", err)
	}
	return repos, nil
}

// AllRepoMetadata returns every stored repository metadata row, for
// writing the fetch-metadata JSON output.
func (s *Store) AllRepoMetadata(ctx context.Context) ([]domain.RepoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, repo, description, stars, forks, watchers, topics,
			license, language, default_branch, created_at, updated_at, pushed_at
		FROM repo_metadata
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query repo metadata: %w", err)
	}
	defer rows.Close()

	var repos []domain.RepoRecord
	for rows.Next() {
		var r domain.RepoRecord
		var topicsJSON string
		if err := rows.Scan(&r.Owner, &r.Repo, &r.Description, &r.Stars, &r.Forks, &r.Watchers,
			&topicsJSON, &r.License, &r.Language, &r.DefaultBranch,
			&r.CreatedAt, &r.UpdatedAt, &r.PushedAt); err != nil {
			return nil, fmt.Errorf("store: scan repo metadata: %w", err)
		}
		if topicsJSON != "" {
			if err := json.Unmarshal([]byte(topicsJSON), &r.Topics); err != nil {
				return nil, fmt.Errorf("store: unmarshal topics: %w", err)
			}
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate repo metadata: %w", err)
	}
	return repos, nil
}

// UpsertFileHistory stores or replaces the commit history computed
// for a single file.
func (s *Store) UpsertFileHistory(ctx context.Context, f domain.FileRecord, h domain.FileHistory) error {
	authorsJSON, err := json.Marshal(h.Authors)
	if err != nil {
		return fmt.Errorf("store: marshal authors: %w", err)
	}
	commitsJSON, err := json.Marshal(h.Commits)
	if err != nil {
		return fmt.Errorf("store: marshal commits: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO file_history (
			owner, repo, ref, path, first_commit_at, last_commit_at,
			authors, commit_count, commits, fetched_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, repo, ref, path) DO UPDATE SET
			first_commit_at = excluded.first_commit_at,
			last_commit_at = excluded.last_commit_at,
			authors = excluded.authors,
			commit_count = excluded.commit_count,
			commits = excluded.commits,
			fetched_at = excluded.fetched_at
	`, f.Owner, f.Repo, f.Ref, f.Path, h.FirstCommitAt, h.LastCommitAt,
		string(authorsJSON), h.CommitCount, string(commitsJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: upsert file history for %s: %w", f.Key(), err)
	}
	return nil
}

// AllFileHistory returns every stored file history row keyed by the
// file's URL, for writing the fetch-history JSON output.
func (s *Store) AllFileHistory(ctx context.Context) (map[string]domain.FileHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.owner, f.repo, f.ref, f.path, f.url,
			fh.first_commit_at, fh.last_commit_at, fh.authors, fh.commit_count, fh.commits
		FROM file_history fh
		JOIN files f ON f.owner = fh.owner AND f.repo = fh.repo AND f.ref = fh.ref AND f.path = fh.path
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query file history: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.FileHistory)
	for rows.Next() {
		var owner, repo, ref, path, url string
		var authorsJSON, commitsJSON string
		var h domain.FileHistory
		if err := rows.Scan(&owner, &repo, &ref, &path, &url,
			&h.FirstCommitAt, &h.LastCommitAt, &authorsJSON, &h.CommitCount, &commitsJSON); err != nil {
			return nil, fmt.Errorf("store: scan file history: %w", err)
		}
		if err := json.Unmarshal([]byte(authorsJSON), &h.Authors); err != nil {
			return nil, fmt.Errorf("store: unmarshal authors: %w", err)
		}
		if err := json.Unmarshal([]byte(commitsJSON), &h.Commits); err != nil {
			return nil, fmt.Errorf("store: unmarshal commits: %w", err)
		}
		h.FileKey = fmt.Sprintf("%s/%s/%s/%s", owner, repo, ref, path)
		result[url] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate file history: %w", err)
	}
	return result, nil
}

// ScanProgress is the persisted cursor for one collector query, per
// spec.md §4.4's Resumability paragraph.
type ScanProgress struct {
	Query       string
	LastLo      uint64
	MaxSize     uint64
	Width       uint64
	Collected   int
	CompletedAt *time.Time
}

// LoadScanProgress returns the saved cursor for query, if any.
func (s *Store) LoadScanProgress(ctx context.Context, query string) (*ScanProgress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT query, last_lo, max_size, width, collected, completed_at
		FROM scan_progress WHERE query = ?
	`, query)

	var p ScanProgress
	var completedAt sql.NullTime
	if err := row.Scan(&p.Query, &p.LastLo, &p.MaxSize, &p.Width, &p.Collected, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan progress for %q: %w", query, err)
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

// SaveScanProgress persists the cursor after a processed chunk —
// spec.md §5's ordering requirement that chunk N's advance is durable
// before chunk N+1 begins.
func (s *Store) SaveScanProgress(ctx context.Context, p ScanProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_progress (query, last_lo, max_size, width, collected, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			last_lo = excluded.last_lo,
			max_size = excluded.max_size,
			width = excluded.width,
			collected = excluded.collected,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`, p.Query, p.LastLo, p.MaxSize, p.Width, p.Collected, p.CompletedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save scan progress for %q: %w", p.Query, err)
	}
	return nil
}
