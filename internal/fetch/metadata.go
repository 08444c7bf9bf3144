package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/sourcegrid-labs/ghshard/internal/domain"
	"github.com/sourcegrid-labs/ghshard/internal/ghclient"
	"github.com/sourcegrid-labs/ghshard/internal/logger"
	"github.com/sourcegrid-labs/ghshard/internal/store"
)

// parseRFC3339 parses a GraphQL DateTime scalar, returning the zero
// time for a nil or malformed value rather than failing the batch.
func parseRFC3339(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DefaultMetadataBatchSize is the batch size the graph strategy uses
// for repository metadata fetches.
const DefaultMetadataBatchSize = 50

// MetadataOptions configures a Metadata.Run call.
type MetadataOptions struct {
	Strategy  Strategy
	BatchSize int
}

// Metadata is the enrichment pass that fetches repository-level
// metadata for every distinct repository named by a discovered file.
type Metadata struct {
	store  *store.Store
	client *ghclient.Client
}

// NewMetadata builds a Metadata pass over store and client.
func NewMetadata(s *store.Store, client *ghclient.Client) *Metadata {
	return &Metadata{store: s, client: client}
}

// Run fetches and stores metadata for every repository the store has
// not already recorded metadata for.
func (p *Metadata) Run(ctx context.Context, opts MetadataOptions) (Stats, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultMetadataBatchSize
	}

	repos, err := p.store.DistinctRepos(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch: list distinct repos: %w", err)
	}

	done, err := p.store.AllRepoMetadata(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch: list existing repo metadata: %w", err)
	}
	haveMetadata := make(map[string]bool, len(done))
	for _, r := range done {
		haveMetadata[r.Key()] = true
	}

	var stats Stats
	var pending []domain.RepoRecord
	for _, r := range repos {
		if haveMetadata[r.Key()] {
			stats.AlreadyDone++
			continue
		}
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	var mu statsMu
	switch opts.Strategy {
	case StrategyGraphQL:
		if err := p.runBatched(ctx, pending, opts.BatchSize, &stats, &mu); err != nil {
			return stats, err
		}
	default:
		keys := make([]string, len(pending))
		byKey := make(map[string]domain.RepoRecord, len(pending))
		for i, r := range pending {
			keys[i] = r.Key()
			byKey[r.Key()] = r
		}
		err := runPool(ctx, keys, func(ctx context.Context, key string) error {
			return p.fetchOne(ctx, byKey[key], &stats, &mu)
		})
		if err != nil {
			return stats, err
		}
	}

	logger.Progress("fetch-metadata: %d done, %d skipped, %d already done", stats.Done, stats.Skipped, stats.AlreadyDone)
	logger.ProgressDone()
	return stats, nil
}

func (p *Metadata) fetchOne(ctx context.Context, r domain.RepoRecord, stats *Stats, mu *statsMu) error {
	repo, err := p.client.GetRepository(ctx, r.Owner, r.Repo)
	if err != nil {
		var apiErr *ghclient.APIError
		if ok := asAPIError(err, &apiErr); ok && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			logger.Warn("fetch-metadata: permanent error for %s: %v", r.Key(), err)
			mu.add(func() {
				stats.Skipped++
				stats.Errors = append(stats.Errors, ItemError{Item: r.Key(), Status: apiErr.StatusCode, Message: err.Error()})
			})
			return nil
		}
		logger.Debug("fetch-metadata: transient error for %s: %v", r.Key(), err)
		return nil
	}

	record := repoRecordFromAPI(r.Owner, r.Repo, repo)
	if err := p.store.UpsertRepoMetadata(ctx, record); err != nil {
		return fmt.Errorf("fetch: store metadata for %s: %w", r.Key(), err)
	}
	mu.add(func() { stats.Done++ })
	return nil
}

func repoRecordFromAPI(owner, repo string, g *gh.Repository) domain.RepoRecord {
	r := domain.RepoRecord{
		Owner:         owner,
		Repo:          repo,
		Description:   g.GetDescription(),
		Stars:         g.GetStargazersCount(),
		Forks:         g.GetForksCount(),
		Watchers:      g.GetWatchersCount(),
		Topics:        g.Topics,
		Language:      g.GetLanguage(),
		DefaultBranch: g.GetDefaultBranch(),
		CreatedAt:     g.GetCreatedAt().Time,
		UpdatedAt:     g.GetUpdatedAt().Time,
		PushedAt:      g.GetPushedAt().Time,
	}
	if lic := g.GetLicense(); lic != nil {
		r.License = lic.GetSPDXID()
	}
	return r
}

// runBatched fetches repository metadata via aliased GraphQL lookups,
// batchSize repos per round trip, splitting on complexity rejection
// down to a single repo, which falls back to the REST path.
func (p *Metadata) runBatched(ctx context.Context, repos []domain.RepoRecord, batchSize int, stats *Stats, mu *statsMu) error {
	for start := 0; start < len(repos); start += batchSize {
		end := start + batchSize
		if end > len(repos) {
			end = len(repos)
		}
		if err := p.runBatch(ctx, repos[start:end], batchSize, stats, mu); err != nil {
			return err
		}
	}
	return nil
}

func (p *Metadata) runBatch(ctx context.Context, batch []domain.RepoRecord, batchSize int, stats *Stats, mu *statsMu) error {
	if len(batch) == 1 {
		return p.fetchOne(ctx, batch[0], stats, mu)
	}

	query := buildRepoMetadataQuery(batch)
	data, err := p.client.DoGraphQL(ctx, query, nil)
	if err != nil {
		if isComplexityErr(err) {
			mid := len(batch) / 2
			if mid == 0 {
				mid = 1
			}
			logger.Debug("fetch-metadata: batch of %d rejected, splitting", len(batch))
			if err := p.runBatch(ctx, batch[:mid], batchSize, stats, mu); err != nil {
				return err
			}
			return p.runBatch(ctx, batch[mid:], batchSize, stats, mu)
		}
		return fmt.Errorf("fetch: metadata batch query: %w", err)
	}

	var results map[string]repoMetadataResult
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("fetch: decode metadata batch: %w", err)
	}

	var fallback []domain.RepoRecord
	for i, r := range batch {
		res, ok := results[blobAlias(i)]
		if !ok {
			fallback = append(fallback, r)
			continue
		}
		record := res.toRepoRecord(r.Owner, r.Repo)
		if err := p.store.UpsertRepoMetadata(ctx, record); err != nil {
			return fmt.Errorf("fetch: store metadata for %s: %w", r.Key(), err)
		}
		mu.add(func() { stats.Done++ })
	}

	for _, r := range fallback {
		if err := p.fetchOne(ctx, r, stats, mu); err != nil {
			return err
		}
	}
	return nil
}

type repoMetadataResult struct {
	Description       *string  `json:"description"`
	StargazerCount     *int     `json:"stargazerCount"`
	ForkCount          *int     `json:"forkCount"`
	Watchers           *struct{ TotalCount int `json:"totalCount"` } `json:"watchers"`
	RepositoryTopics   *struct {
		Nodes []struct {
			Topic struct {
				Name string `json:"name"`
			} `json:"topic"`
		} `json:"nodes"`
	} `json:"repositoryTopics"`
	LicenseInfo   *struct{ SpdxID string `json:"spdxId"` } `json:"licenseInfo"`
	PrimaryLanguage *struct{ Name string `json:"name"` } `json:"primaryLanguage"`
	DefaultBranchRef *struct{ Name string `json:"name"` } `json:"defaultBranchRef"`
	CreatedAt   *string `json:"createdAt"`
	UpdatedAt   *string `json:"updatedAt"`
	PushedAt    *string `json:"pushedAt"`
}

func (r repoMetadataResult) toRepoRecord(owner, repo string) domain.RepoRecord {
	rec := domain.RepoRecord{Owner: owner, Repo: repo}
	if r.Description != nil {
		rec.Description = *r.Description
	}
	if r.StargazerCount != nil {
		rec.Stars = *r.StargazerCount
	}
	if r.ForkCount != nil {
		rec.Forks = *r.ForkCount
	}
	if r.Watchers != nil {
		rec.Watchers = r.Watchers.TotalCount
	}
	if r.RepositoryTopics != nil {
		for _, n := range r.RepositoryTopics.Nodes {
			rec.Topics = append(rec.Topics, n.Topic.Name)
		}
	}
	if r.LicenseInfo != nil {
		rec.License = r.LicenseInfo.SpdxID
	}
	if r.PrimaryLanguage != nil {
		rec.Language = r.PrimaryLanguage.Name
	}
	if r.DefaultBranchRef != nil {
		rec.DefaultBranch = r.DefaultBranchRef.Name
	}
	rec.CreatedAt = parseRFC3339(r.CreatedAt)
	rec.UpdatedAt = parseRFC3339(r.UpdatedAt)
	rec.PushedAt = parseRFC3339(r.PushedAt)
	return rec
}

func buildRepoMetadataQuery(batch []domain.RepoRecord) string {
	var b []byte
	b = append(b, "query {\n"...)
	for i, r := range batch {
		b = append(b, fmt.Sprintf(
			"  %s: repository(owner: %q, name: %q) { description stargazerCount forkCount watchers { totalCount } repositoryTopics(first: 20) { nodes { topic { name } } } licenseInfo { spdxId } primaryLanguage { name } defaultBranchRef { name } createdAt updatedAt pushedAt }\n",
			blobAlias(i), r.Owner, r.Repo)...)
	}
	b = append(b, '}')
	return string(b)
}
