package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sourcegrid-labs/ghshard/internal/cliutil"
	"github.com/sourcegrid-labs/ghshard/internal/collector"
)

var collectMaxSize uint64

var collectPathsCmd = &cobra.Command{
	Use:   "collect-paths QUERY",
	Short: "Discover file paths matching QUERY via adaptive-width size shards",
	Long: `Runs GitHub's code search API over QUERY in adaptive-width byte-size
shards, storing every discovered file's path, SHA, and URL in the
result store. Resumable: a prior, incomplete run picks back up from
its last persisted cursor.`,
	Args: cobra.ExactArgs(1),
	RunE: runCollectPaths,
}

func init() {
	collectPathsCmd.Flags().Uint64Var(&collectMaxSize, "max-size", collector.DefaultMaxSize, "upper bound, in bytes, of the size range to scan")
	rootCmd.AddCommand(collectPathsCmd)
}

func runCollectPaths(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	c := collector.New(rt.client, rt.store)
	stats, err := c.Run(cmd.Context(), collector.Options{
		Query:   args[0],
		MaxSize: collectMaxSize,
	})
	if err != nil {
		var sat *collector.ErrIrreducibleSaturation
		if errors.As(err, &sat) {
			cmd.PrintErrf("collect-paths: %v\n", err)
		}
		return err
	}

	cmd.Printf("collect-paths: %s chunks processed, %s files inserted, %s total collected, scan reached byte %s\n",
		cliutil.Comma(stats.ChunksProcessed), cliutil.Comma(stats.FilesInserted),
		cliutil.Comma(stats.Collected), cliutil.Comma(int(stats.FinalLo)))
	return nil
}
