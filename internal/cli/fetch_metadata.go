package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sourcegrid-labs/ghshard/internal/cliutil"
	"github.com/sourcegrid-labs/ghshard/internal/fetch"
)

var fetchMetadataCmd = &cobra.Command{
	Use:   "fetch-metadata",
	Short: "Fetch repository metadata for every distinct repository discovered",
	Long: `Fetches description, stars, forks, topics, license, and default branch
for every (owner, repo) pair a discovered file belongs to, storing it
in the result store and dumping it to repo_metadata.json.`,
	RunE: runFetchMetadata,
}

func init() {
	rootCmd.AddCommand(fetchMetadataCmd)
}

func runFetchMetadata(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	strategy := fetch.StrategyREST
	if rt.cfg.GraphQL {
		strategy = fetch.StrategyGraphQL
	}

	m := fetch.NewMetadata(rt.store, rt.client)
	stats, err := m.Run(cmd.Context(), fetch.MetadataOptions{
		Strategy:  strategy,
		BatchSize: rt.cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	repos, err := rt.store.AllRepoMetadata(cmd.Context())
	if err != nil {
		return err
	}
	byKey := make(map[string]any, len(repos))
	for _, r := range repos {
		byKey[r.Key()] = r
	}
	out := filepath.Join(".", "repo_metadata.json")
	if err := cliutil.WriteJSONMap(out, byKey); err != nil {
		return err
	}

	cmd.Printf("fetch-metadata: %s done, %s skipped, %s already done, wrote %s\n",
		cliutil.Comma(stats.Done), cliutil.Comma(stats.Skipped), cliutil.Comma(stats.AlreadyDone), out)
	return nil
}
