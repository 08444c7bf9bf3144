package collector

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/sourcegrid-labs/ghshard/internal/domain"
	"github.com/sourcegrid-labs/ghshard/internal/ghclient"
	"github.com/sourcegrid-labs/ghshard/internal/logger"
	"github.com/sourcegrid-labs/ghshard/internal/store"
)

const (
	// DefaultMaxSize is the upper bound on the byte-size axis the scan
	// covers.
	DefaultMaxSize = 1 << 20 // 1 MiB

	// DefaultInitialWidth is the starting chunk width before any
	// adaptation has occurred.
	DefaultInitialWidth = uint64(100)

	// DefaultMaxWidth caps how far a chunk can widen after repeated
	// low-density doublings.
	DefaultMaxWidth = uint64(100_000)

	// DefaultLowWatermark and DefaultHighWatermark are the comfort
	// thresholds that drive widening/narrowing between chunks.
	DefaultLowWatermark  = 50
	DefaultHighWatermark = 500

	// SaturationCap is the host's per-query result ceiling. A chunk
	// reporting a count at or above this is treated as oversubscribed.
	SaturationCap = 1000

	// DefaultMaxEmptyPageRetries bounds how many times a chunk retries
	// a page that came back empty despite an expected nonzero row count.
	DefaultMaxEmptyPageRetries = 3

	perPage  = 100
	maxPages = 10 // host limit: 10 pages * 100 per page = 1,000 results
)

// Options configures one Run. Zero-valued fields fall back to the
// package defaults via withDefaults.
type Options struct {
	Query string

	MaxSize       uint64
	InitialWidth  uint64
	MaxWidth      uint64
	LowWatermark  int
	HighWatermark int

	MaxEmptyPageRetries int
}

func (o Options) withDefaults() Options {
	if o.MaxSize == 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.InitialWidth == 0 {
		o.InitialWidth = DefaultInitialWidth
	}
	if o.MaxWidth == 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.LowWatermark == 0 {
		o.LowWatermark = DefaultLowWatermark
	}
	if o.HighWatermark == 0 {
		o.HighWatermark = DefaultHighWatermark
	}
	if o.MaxEmptyPageRetries == 0 {
		o.MaxEmptyPageRetries = DefaultMaxEmptyPageRetries
	}
	return o
}

// Stats summarizes one Run.
type Stats struct {
	ChunksProcessed int
	FilesInserted   int
	Collected       int
	FinalLo         uint64
}

// Collector drives the linear scan described in doc.go.
type Collector struct {
	client *ghclient.Client
	store  *store.Store
}

// New builds a Collector over client and store.
func New(client *ghclient.Client, s *store.Store) *Collector {
	return &Collector{client: client, store: s}
}

// Run performs (or resumes) the scan for opts.Query. It returns once
// the cursor reaches opts.MaxSize, or surfaces ErrIrreducibleSaturation
// if a chunk cannot be narrowed any further.
func (c *Collector) Run(ctx context.Context, opts Options) (Stats, error) {
	opts = opts.withDefaults()

	progress, err := c.store.LoadScanProgress(ctx, opts.Query)
	if err != nil {
		return Stats{}, fmt.Errorf("collector: load scan progress: %w", err)
	}
	if progress != nil && progress.CompletedAt != nil {
		return Stats{Collected: progress.Collected, FinalLo: progress.LastLo}, nil
	}

	lo := uint64(0)
	width := opts.InitialWidth
	collected := 0
	if progress != nil {
		lo = progress.LastLo
		if progress.Width > 0 {
			width = progress.Width
		}
		collected = progress.Collected
		logger.Info("collector: resuming %q from size:%d, width %d, %d collected", opts.Query, lo, width, collected)
	}

	var stats Stats

	for lo < opts.MaxSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		hi := lo + width
		if hi > opts.MaxSize {
			hi = opts.MaxSize
		}
		chunk := domain.SearchChunk{Lo: lo, Hi: hi}
		query := opts.Query + " " + chunk.SizeQuery()

		inserted, total, err := c.collectChunk(ctx, query, opts.MaxEmptyPageRetries)
		if err != nil {
			return stats, err
		}
		stats.ChunksProcessed++

		if total >= SaturationCap {
			if width <= 1 {
				return stats, &ErrIrreducibleSaturation{Size: lo, Count: total}
			}
			width /= 2
			if width < 1 {
				width = 1
			}
			logger.Progress("collect-paths: size:%d..%d = %d (narrowing to width %d)", chunk.Lo, chunk.Hi, total, width)
			if err := c.saveProgress(ctx, opts, lo, width, collected, false); err != nil {
				return stats, err
			}
			continue
		}

		collected += inserted
		stats.FilesInserted += inserted
		lo = hi

		switch {
		case total >= opts.HighWatermark:
			// dense enough: advance without widening
		case total <= opts.LowWatermark:
			width *= 2
			if width > opts.MaxWidth {
				width = opts.MaxWidth
			}
		}

		logger.Progress("collect-paths: size:%d..%d = %d (%d collected)", chunk.Lo, chunk.Hi, total, collected)
		if err := c.saveProgress(ctx, opts, lo, width, collected, false); err != nil {
			return stats, err
		}
	}

	logger.ProgressDone()
	if err := c.saveProgress(ctx, opts, lo, width, collected, true); err != nil {
		return stats, err
	}

	stats.Collected = collected
	stats.FinalLo = lo
	return stats, nil
}

func (c *Collector) saveProgress(ctx context.Context, opts Options, lo, width uint64, collected int, completed bool) error {
	p := store.ScanProgress{
		Query:     opts.Query,
		LastLo:    lo,
		MaxSize:   opts.MaxSize,
		Width:     width,
		Collected: collected,
	}
	if completed {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}
	if err := c.store.SaveScanProgress(ctx, p); err != nil {
		return fmt.Errorf("collector: save scan progress: %w", err)
	}
	return nil
}

// collectChunk pages through every result for query, inserting each
// page's rows into the store as it arrives, and returns the number of
// newly inserted rows plus the host's reported total for the chunk.
//
// A page that comes back empty while rows are still expected is
// retried (not advanced) up to maxEmptyRetries times before the chunk
// is treated as truncated — the host's search index can return
// spuriously empty pages under load.
func (c *Collector) collectChunk(ctx context.Context, query string, maxEmptyRetries int) (inserted int, total int, err error) {
	page := 1
	emptyRetries := 0
	expectedTotal := -1
	seen := 0

	for page <= maxPages {
		if err := ctx.Err(); err != nil {
			return inserted, total, err
		}

		result, err := c.client.SearchCode(ctx, query, page, perPage)
		if err != nil {
			return inserted, total, fmt.Errorf("collector: search %q page %d: %w", query, page, err)
		}
		if expectedTotal == -1 {
			expectedTotal = result.GetTotal()
			total = expectedTotal
		}

		items := result.CodeResults
		if len(items) == 0 {
			expectedSoFar := expectedTotal
			if page*perPage < expectedSoFar {
				expectedSoFar = page * perPage
			}
			if seen >= expectedSoFar || seen >= expectedTotal {
				break
			}
			emptyRetries++
			if emptyRetries > maxEmptyRetries {
				logger.Warn("collector: %d consecutive empty pages for %q, giving up on remaining pages", emptyRetries, query)
				break
			}
			logger.Debug("collector: empty page %d for %q, expected ~%d total, have %d, retry %d/%d",
				page, query, expectedTotal, seen, emptyRetries, maxEmptyRetries)
			continue
		}

		emptyRetries = 0
		records := make([]domain.FileRecord, 0, len(items))
		for _, item := range items {
			records = append(records, fileRecordFromResult(item))
		}

		n, err := c.store.InsertFiles(ctx, records)
		if err != nil {
			return inserted, total, fmt.Errorf("collector: insert files: %w", err)
		}
		inserted += n
		seen += len(items)
		if seen >= expectedTotal {
			break
		}
		page++
	}

	return inserted, total, nil
}

// fileRecordFromResult projects a search hit into a FileRecord. The
// search API reports no byte size per item — only the chunk's bucket
// the hit was found in — so Size is left at its zero value here; it is
// not needed downstream, since content and history are both addressed
// by (owner, repo, ref, path), not by size.
func fileRecordFromResult(item *gh.CodeResult) domain.FileRecord {
	repo := item.GetRepository()
	ref := repo.GetDefaultBranch()
	if ref == "" {
		ref = "HEAD"
	}
	return domain.FileRecord{
		Owner: repo.GetOwner().GetLogin(),
		Repo:  repo.GetName(),
		Ref:   ref,
		Path:  item.GetPath(),
		SHA:   item.GetSHA(),
		URL:   item.GetHTMLURL(),
	}
}
