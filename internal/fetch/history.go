package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v80/github"

	"github.com/sourcegrid-labs/ghshard/internal/domain"
	"github.com/sourcegrid-labs/ghshard/internal/ghclient"
	"github.com/sourcegrid-labs/ghshard/internal/logger"
	"github.com/sourcegrid-labs/ghshard/internal/store"
)

// MaxHistoryCommits caps how many commits are kept per file, matching
// the original's own cap on its commits iterator.
const MaxHistoryCommits = 100

// DefaultHistoryBatchSize is the batch size the graph strategy uses
// for commit history fetches — smaller than content/metadata because
// a history sub-selection is itself a nested list and costs more
// complexity budget per item.
const DefaultHistoryBatchSize = 20

// HistoryOptions configures a History.Run call.
type HistoryOptions struct {
	Strategy  Strategy
	BatchSize int
}

// History is the enrichment pass that fetches, for each file, its
// commit history on the ref it was discovered at.
type History struct {
	store  *store.Store
	client *ghclient.Client
}

// NewHistory builds a History pass over store and client.
func NewHistory(s *store.Store, client *ghclient.Client) *History {
	return &History{store: s, client: client}
}

// Run fetches commit history for every file the store has not already
// recorded history for.
func (p *History) Run(ctx context.Context, opts HistoryOptions) (Stats, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultHistoryBatchSize
	}

	pending, err := p.store.FilesPendingHistory(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch: list pending history: %w", err)
	}
	if len(pending) == 0 {
		return Stats{}, nil
	}

	var stats Stats
	var mu statsMu
	switch opts.Strategy {
	case StrategyGraphQL:
		if err := p.runBatched(ctx, pending, opts.BatchSize, &stats, &mu); err != nil {
			return stats, err
		}
	default:
		keys := make([]string, len(pending))
		byKey := make(map[string]domain.FileRecord, len(pending))
		for i, f := range pending {
			keys[i] = f.Key()
			byKey[f.Key()] = f
		}
		err := runPool(ctx, keys, func(ctx context.Context, key string) error {
			return p.fetchOne(ctx, byKey[key], &stats, &mu)
		})
		if err != nil {
			return stats, err
		}
	}

	logger.Progress("fetch-history: %d done, %d skipped", stats.Done, stats.Skipped)
	logger.ProgressDone()
	return stats, nil
}

func (p *History) fetchOne(ctx context.Context, f domain.FileRecord, stats *Stats, mu *statsMu) error {
	commits, err := p.client.ListCommits(ctx, f.Owner, f.Repo, f.Path, f.Ref, 1, MaxHistoryCommits)
	if err != nil {
		var apiErr *ghclient.APIError
		if ok := asAPIError(err, &apiErr); ok && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			logger.Warn("fetch-history: permanent error for %s: %v", f.Key(), err)
			mu.add(func() {
				stats.Skipped++
				stats.Errors = append(stats.Errors, ItemError{Item: f.Key(), Status: apiErr.StatusCode, Message: err.Error()})
			})
			return nil
		}
		logger.Debug("fetch-history: transient error for %s: %v", f.Key(), err)
		return nil
	}

	h := historyFromCommits(commits)
	if err := p.store.UpsertFileHistory(ctx, f, h); err != nil {
		return fmt.Errorf("fetch: store history for %s: %w", f.Key(), err)
	}
	mu.add(func() { stats.Done++ })
	return nil
}

// historyFromCommits converts a REST commit list (newest first) into
// a FileHistory, truncating SHAs to 7 characters and commit messages
// to their first line capped at 80 characters, matching the original.
func historyFromCommits(commits []*gh.RepositoryCommit) domain.FileHistory {
	var h domain.FileHistory
	var authors []string

	for i, c := range commits {
		if i >= MaxHistoryCommits {
			break
		}
		commit := trimmedCommit(c)
		h.Commits = append(h.Commits, commit)
		if commit.Author != "" {
			authors = append(authors, commit.Author)
		}
		if !commit.Date.IsZero() {
			if h.LastCommitAt.IsZero() || commit.Date.After(h.LastCommitAt) {
				h.LastCommitAt = commit.Date
			}
			if h.FirstCommitAt.IsZero() || commit.Date.Before(h.FirstCommitAt) {
				h.FirstCommitAt = commit.Date
			}
		}
	}
	h.Authors = domain.DedupAuthors(authors)
	h.CommitCount = len(h.Commits)
	return h
}

func trimmedCommit(c *gh.RepositoryCommit) domain.Commit {
	sha := c.GetSHA()
	if len(sha) > 7 {
		sha = sha[:7]
	}

	var author string
	var date gh.Timestamp
	if gc := c.GetCommit(); gc != nil {
		if a := gc.GetAuthor(); a != nil {
			author = a.GetName()
			date = a.GetDate()
		}
	}

	message := c.GetCommit().GetMessage()
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	if len(message) > 80 {
		message = message[:80]
	}

	return domain.Commit{SHA: sha, Author: author, Date: date.Time, Message: message}
}

// runBatched fetches commit history via aliased GraphQL ref/history
// lookups, batchSize files per round trip, splitting on complexity
// rejection down to a single file, which falls back to the REST path.
func (p *History) runBatched(ctx context.Context, files []domain.FileRecord, batchSize int, stats *Stats, mu *statsMu) error {
	for start := 0; start < len(files); start += batchSize {
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}
		if err := p.runBatch(ctx, files[start:end], batchSize, stats, mu); err != nil {
			return err
		}
	}
	return nil
}

func (p *History) runBatch(ctx context.Context, batch []domain.FileRecord, batchSize int, stats *Stats, mu *statsMu) error {
	if len(batch) == 1 {
		return p.fetchOne(ctx, batch[0], stats, mu)
	}

	query := buildHistoryQuery(batch)
	data, err := p.client.DoGraphQL(ctx, query, nil)
	if err != nil {
		if isComplexityErr(err) {
			mid := len(batch) / 2
			if mid == 0 {
				mid = 1
			}
			logger.Debug("fetch-history: batch of %d rejected, splitting", len(batch))
			if err := p.runBatch(ctx, batch[:mid], batchSize, stats, mu); err != nil {
				return err
			}
			return p.runBatch(ctx, batch[mid:], batchSize, stats, mu)
		}
		return fmt.Errorf("fetch: history batch query: %w", err)
	}

	var results map[string]historyResult
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("fetch: decode history batch: %w", err)
	}

	var fallback []domain.FileRecord
	for i, f := range batch {
		res, ok := results[blobAlias(i)]
		if !ok || res.Ref == nil || res.Ref.Target == nil {
			fallback = append(fallback, f)
			continue
		}
		h := res.Ref.Target.History.toFileHistory()
		if err := p.store.UpsertFileHistory(ctx, f, h); err != nil {
			return fmt.Errorf("fetch: store history for %s: %w", f.Key(), err)
		}
		mu.add(func() { stats.Done++ })
	}

	for _, f := range fallback {
		if err := p.fetchOne(ctx, f, stats, mu); err != nil {
			return err
		}
	}
	return nil
}

type historyResult struct {
	Ref *struct {
		Target *struct {
			History historyConnection `json:"history"`
		} `json:"target"`
	} `json:"ref"`
}

type historyConnection struct {
	Nodes []struct {
		Oid           string  `json:"oid"`
		CommittedDate *string `json:"committedDate"`
		Message       string  `json:"message"`
		Author        *struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"nodes"`
}

func (hc historyConnection) toFileHistory() domain.FileHistory {
	var h domain.FileHistory
	var authors []string

	for i, n := range hc.Nodes {
		if i >= MaxHistoryCommits {
			break
		}
		sha := n.Oid
		if len(sha) > 7 {
			sha = sha[:7]
		}
		message := n.Message
		if idx := strings.IndexByte(message, '\n'); idx >= 0 {
			message = message[:idx]
		}
		if len(message) > 80 {
			message = message[:80]
		}
		var author string
		if n.Author != nil {
			author = n.Author.Name
		}
		date := parseRFC3339(n.CommittedDate)

		h.Commits = append(h.Commits, domain.Commit{SHA: sha, Author: author, Date: date, Message: message})
		if author != "" {
			authors = append(authors, author)
		}
		if !date.IsZero() {
			if h.LastCommitAt.IsZero() || date.After(h.LastCommitAt) {
				h.LastCommitAt = date
			}
			if h.FirstCommitAt.IsZero() || date.Before(h.FirstCommitAt) {
				h.FirstCommitAt = date
			}
		}
	}
	h.Authors = domain.DedupAuthors(authors)
	h.CommitCount = len(h.Commits)
	return h
}

func buildHistoryQuery(batch []domain.FileRecord) string {
	var b []byte
	b = append(b, "query {\n"...)
	for i, f := range batch {
		b = append(b, fmt.Sprintf(
			"  %s: repository(owner: %q, name: %q) { ref(qualifiedName: %q) { target { ... on Commit { history(first: %d, path: %q) { nodes { oid committedDate message author { name } } } } } } }\n",
			blobAlias(i), f.Owner, f.Repo, f.Ref, MaxHistoryCommits, f.Path)...)
	}
	b = append(b, '}')
	return string(b)
}
