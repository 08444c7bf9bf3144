// Package cli wires the five ghshard subcommands — collect-paths,
// fetch-content, fetch-metadata, fetch-history, api — plus version,
// onto a root cobra command carrying the persistent flags every
// subcommand shares: the result store path, the content directory,
// cache bypass, and the GraphQL/REST strategy choice.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourcegrid-labs/ghshard/internal/cache"
	"github.com/sourcegrid-labs/ghshard/internal/config"
	"github.com/sourcegrid-labs/ghshard/internal/ghclient"
	"github.com/sourcegrid-labs/ghshard/internal/logger"
	"github.com/sourcegrid-labs/ghshard/internal/store"
)

var (
	flagDBPath     string
	flagContentDir string
	flagSkipCache  bool
	flagGraphQL    bool
	flagBatchSize  int
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ghshard",
	Short: "Discover, collect, and enrich GitHub files by size shard",
	Long: `ghshard searches GitHub's code search API in adaptive-width byte-size
shards, storing every discovered file in a local result store, then
enriches that store with file content, repository metadata, and commit
history through a rate-limited, response-cached API client.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(flagVerbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "files.db", "path to the result store database")
	rootCmd.PersistentFlags().StringVar(&flagContentDir, "content-dir", "content", "directory fetched file content is written under")
	rootCmd.PersistentFlags().BoolVar(&flagSkipCache, "skip-cache", false, "bypass cache reads (writes still occur)")
	rootCmd.PersistentFlags().BoolVar(&flagGraphQL, "graphql", false, "use the batched GraphQL strategy for enrichment passes")
	rootCmd.PersistentFlags().IntVar(&flagBatchSize, "batch-size", 0, "override the GraphQL batch size (0 uses each pass's default)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "print debug logging to stderr")
}

// Execute runs the root command against os.Args, returning the error
// any subcommand's RunE produced.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext is Execute, but binds ctx as the base context every
// subcommand's cmd.Context() resolves to — so a cancelled ctx (e.g. on
// SIGINT) propagates down into whatever long-running pass is in flight.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// runtime bundles the shared dependencies every subcommand builds from
// the resolved configuration and persistent flags.
type runtime struct {
	cfg    *config.Config
	cache  *cache.Cache
	client *ghclient.Client
	store  *store.Store
}

// newRuntime loads configuration and opens the result store, cache,
// and API client a subcommand needs. Callers must close the returned
// runtime's store when done.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.DBPath = flagDBPath
	cfg.ContentDir = flagContentDir
	cfg.SkipCache = flagSkipCache
	cfg.GraphQL = flagGraphQL
	cfg.BatchSize = flagBatchSize

	c := cache.New(cfg.CacheDir)
	client := ghclient.New(config.NewStaticTokenProvider(cfg.Token), c, cfg.SkipCache)

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("cli: open result store: %w", err)
	}

	return &runtime{cfg: cfg, cache: c, client: client, store: s}, nil
}

func (r *runtime) Close() {
	if r.store != nil {
		_ = r.store.Close()
	}
}
