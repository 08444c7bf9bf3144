package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sourcegrid-labs/ghshard/internal/cliutil"
	"github.com/sourcegrid-labs/ghshard/internal/fetch"
)

var fetchHistoryCmd = &cobra.Command{
	Use:   "fetch-history",
	Short: "Fetch commit history for every pending discovered file",
	Long: `Fetches up to the most recent 100 commits touching each discovered
file, trimming each commit to a short SHA and a single-line message,
storing the result in the result store and dumping it to
file_history.json.`,
	RunE: runFetchHistory,
}

func init() {
	rootCmd.AddCommand(fetchHistoryCmd)
}

func runFetchHistory(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	strategy := fetch.StrategyREST
	if rt.cfg.GraphQL {
		strategy = fetch.StrategyGraphQL
	}

	h := fetch.NewHistory(rt.store, rt.client)
	stats, err := h.Run(cmd.Context(), fetch.HistoryOptions{
		Strategy:  strategy,
		BatchSize: rt.cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	histories, err := rt.store.AllFileHistory(cmd.Context())
	if err != nil {
		return err
	}
	out := filepath.Join(".", "file_history.json")
	if err := cliutil.WriteJSONMap(out, histories); err != nil {
		return err
	}

	cmd.Printf("fetch-history: %s done, %s skipped, %s already done, wrote %s\n",
		cliutil.Comma(stats.Done), cliutil.Comma(stats.Skipped), cliutil.Comma(stats.AlreadyDone), out)
	return nil
}
