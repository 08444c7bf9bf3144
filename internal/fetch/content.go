package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegrid-labs/ghshard/internal/domain"
	"github.com/sourcegrid-labs/ghshard/internal/ghclient"
	"github.com/sourcegrid-labs/ghshard/internal/logger"
	"github.com/sourcegrid-labs/ghshard/internal/store"
)

// ContentOptions configures a Content.Run call.
type ContentOptions struct {
	ContentDir string
	Strategy   Strategy
	BatchSize  int
}

// DefaultContentBatchSize is the batch size the graph strategy uses
// for content fetches.
const DefaultContentBatchSize = 50

// Content is the enrichment pass that writes each pending file's raw
// bytes under ContentDir.
type Content struct {
	store  *store.Store
	client *ghclient.Client
}

// NewContent builds a Content pass over store and client.
func NewContent(s *store.Store, client *ghclient.Client) *Content {
	return &Content{store: s, client: client}
}

// Run fetches content for every file the store reports as pending,
// skipping any whose output already exists on disk.
func (p *Content) Run(ctx context.Context, opts ContentOptions) (Stats, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultContentBatchSize
	}

	pending, err := p.store.FilesPendingContent(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch: list pending content: %w", err)
	}
	if len(pending) == 0 {
		return Stats{}, nil
	}

	onDisk, err := p.alreadyOnDisk(opts.ContentDir)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch: scan content directory: %w", err)
	}

	var stats Stats
	var remaining []domain.FileRecord
	for _, f := range pending {
		if onDisk[f.ContentPath()] {
			if err := p.store.SetContentStatus(ctx, f, "done"); err != nil {
				return stats, fmt.Errorf("fetch: mark %s done: %w", f.Key(), err)
			}
			stats.AlreadyDone++
			continue
		}
		remaining = append(remaining, f)
	}

	byKey := make(map[string]domain.FileRecord, len(remaining))
	keys := make([]string, 0, len(remaining))
	for _, f := range remaining {
		byKey[f.Key()] = f
		keys = append(keys, f.Key())
	}

	var mu statsMu
	switch opts.Strategy {
	case StrategyGraphQL:
		if err := p.runBatched(ctx, remaining, opts.ContentDir, opts.BatchSize, &stats, &mu); err != nil {
			return stats, err
		}
	default:
		err := runPool(ctx, keys, func(ctx context.Context, key string) error {
			return p.fetchOne(ctx, byKey[key], opts.ContentDir, &stats, &mu)
		})
		if err != nil {
			return stats, err
		}
	}

	logger.Progress("fetch-content: %d done, %d skipped, %d already on disk", stats.Done, stats.Skipped, stats.AlreadyDone)
	logger.ProgressDone()
	return stats, nil
}

// alreadyOnDisk walks ContentDir once into a set of relative paths
// already present, instead of an os.Stat per pending item — at scale
// this is far cheaper than one syscall per file.
func (p *Content) alreadyOnDisk(contentDir string) (map[string]bool, error) {
	found := make(map[string]bool)
	err := filepath.WalkDir(contentDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(contentDir, path)
		if err != nil {
			return err
		}
		found[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return found, nil
}

func (p *Content) fetchOne(ctx context.Context, f domain.FileRecord, contentDir string, stats *Stats, mu *statsMu) error {
	body, status, err := p.fetchBytes(ctx, f)
	if err != nil {
		if ghclient.IsNotFound(err) {
			return p.recordSkip(ctx, f, status, err, stats, mu)
		}
		var apiErr *ghclient.APIError
		if ok := asAPIError(err, &apiErr); ok && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return p.recordSkip(ctx, f, apiErr.StatusCode, err, stats, mu)
		}
		logger.Debug("fetch-content: transient error for %s: %v", f.Key(), err)
		return nil // leave PENDING for the next run
	}

	dest := filepath.Join(contentDir, f.ContentPath())
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("fetch: mkdir for %s: %w", f.Key(), err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return fmt.Errorf("fetch: write %s: %w", f.Key(), err)
	}
	if err := p.store.SetContentStatus(ctx, f, "done"); err != nil {
		return fmt.Errorf("fetch: mark %s done: %w", f.Key(), err)
	}
	mu.add(func() { stats.Done++ })
	return nil
}

func (p *Content) recordSkip(ctx context.Context, f domain.FileRecord, status int, cause error, stats *Stats, mu *statsMu) error {
	logger.Warn("fetch-content: permanent error for %s (status %d): %v", f.Key(), status, cause)
	if err := p.store.SetContentStatus(ctx, f, "error"); err != nil {
		return fmt.Errorf("fetch: mark %s error: %w", f.Key(), err)
	}
	mu.add(func() {
		stats.Skipped++
		stats.Errors = append(stats.Errors, ItemError{Item: f.Key(), Status: status, Message: cause.Error()})
	})
	return nil
}

// runBatched fetches content for items via aliased GraphQL blob lookups,
// batchSize items per round trip, falling back to the per-item REST path
// for anything a batch can't resolve: binary blobs (no text field),
// missing objects, and batches the host rejects for complexity, which
// are retried at half the batch size down to a single item.
func (p *Content) runBatched(ctx context.Context, items []domain.FileRecord, contentDir string, batchSize int, stats *Stats, mu *statsMu) error {
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := p.runBatch(ctx, items[start:end], contentDir, batchSize, stats, mu); err != nil {
			return err
		}
	}
	return nil
}

func (p *Content) runBatch(ctx context.Context, batch []domain.FileRecord, contentDir string, batchSize int, stats *Stats, mu *statsMu) error {
	if len(batch) == 1 {
		return p.fetchOne(ctx, batch[0], contentDir, stats, mu)
	}

	query, err := buildBlobTextQuery(batch)
	if err != nil {
		return fmt.Errorf("fetch: build content query: %w", err)
	}
	data, err := p.client.DoGraphQL(ctx, query, nil)
	if err != nil {
		if isComplexityErr(err) {
			mid := len(batch) / 2
			if mid == 0 {
				mid = 1
			}
			logger.Debug("fetch-content: batch of %d rejected, splitting", len(batch))
			if err := p.runBatch(ctx, batch[:mid], contentDir, batchSize, stats, mu); err != nil {
				return err
			}
			return p.runBatch(ctx, batch[mid:], contentDir, batchSize, stats, mu)
		}
		return fmt.Errorf("fetch: content batch query: %w", err)
	}

	var results map[string]blobTextResult
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("fetch: decode content batch: %w", err)
	}

	var fallback []domain.FileRecord
	for i, f := range batch {
		alias := blobAlias(i)
		res, ok := results[alias]
		if !ok || res.Object == nil || res.Object.IsBinary == nil || *res.Object.IsBinary || res.Object.Text == nil {
			fallback = append(fallback, f)
			continue
		}
		dest := filepath.Join(contentDir, f.ContentPath())
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("fetch: mkdir for %s: %w", f.Key(), err)
		}
		if err := os.WriteFile(dest, []byte(*res.Object.Text), 0o644); err != nil {
			return fmt.Errorf("fetch: write %s: %w", f.Key(), err)
		}
		if err := p.store.SetContentStatus(ctx, f, "done"); err != nil {
			return fmt.Errorf("fetch: mark %s done: %w", f.Key(), err)
		}
		mu.add(func() { stats.Done++ })
	}

	for _, f := range fallback {
		if err := p.fetchOne(ctx, f, contentDir, stats, mu); err != nil {
			return err
		}
	}
	return nil
}

// blobTextResult is the shape of one aliased repository(...).object(...)
// sub-selection in a batched content query.
type blobTextResult struct {
	Object *struct {
		Text     *string `json:"text"`
		IsBinary *bool   `json:"isBinary"`
		ByteSize *int    `json:"byteSize"`
	} `json:"object"`
}

func blobAlias(i int) string { return fmt.Sprintf("f%d", i) }

// buildBlobTextQuery synthesizes one GraphQL query with one aliased
// repository lookup per item, each requesting the blob's text content
// at that item's ref:path expression.
func buildBlobTextQuery(batch []domain.FileRecord) (string, error) {
	var b strings.Builder
	b.WriteString("query {\n")
	for i, f := range batch {
		expr := fmt.Sprintf("%s:%s", f.Ref, f.Path)
		fmt.Fprintf(&b, "  %s: repository(owner: %q, name: %q) { object(expression: %q) { ... on Blob { text isBinary byteSize } } }\n",
			blobAlias(i), f.Owner, f.Repo, expr)
	}
	b.WriteString("}")
	return b.String(), nil
}

// fetchBytes fetches one file's content, preferring the contents API
// and falling back to the blob API when the contents API reports the
// file isn't representable as inline content (the host omits inline
// content for files above its own size threshold).
func (p *Content) fetchBytes(ctx context.Context, f domain.FileRecord) ([]byte, int, error) {
	content, err := p.client.GetFileContent(ctx, f.Owner, f.Repo, f.Path, f.Ref)
	if err == nil {
		decoded, decodeErr := content.GetContent()
		if decodeErr == nil {
			return []byte(decoded), 200, nil
		}
		logger.Debug("fetch-content: %s needs blob fallback: %v", f.Key(), decodeErr)
	} else if !isBlobFallbackCandidate(err) {
		return nil, statusOf(err), err
	}

	blob, blobErr := p.client.GetBlob(ctx, f.Owner, f.Repo, f.SHA)
	if blobErr != nil {
		return nil, statusOf(blobErr), blobErr
	}
	decoded, decodeErr := decodeBlob(blob)
	if decodeErr != nil {
		return nil, 0, decodeErr
	}
	return decoded, 200, nil
}

func isBlobFallbackCandidate(err error) bool {
	return err == ghclient.ErrNotAFile
}

func decodeBlob(blob interface{ GetContent() string }) ([]byte, error) {
	raw := strings.ReplaceAll(blob.GetContent(), "\n", "")
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch: decode blob content: %w", err)
	}
	return decoded, nil
}

func statusOf(err error) int {
	var apiErr *ghclient.APIError
	if asAPIError(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func asAPIError(err error, target **ghclient.APIError) bool {
	ae, ok := err.(*ghclient.APIError)
	if ok {
		*target = ae
	}
	return ok
}
