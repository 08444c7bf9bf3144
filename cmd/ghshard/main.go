// Command ghshard discovers, collects, and enriches GitHub files by size
// shard, driven entirely by the subcommands in internal/cli.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sourcegrid-labs/ghshard/internal/cli"
	"github.com/sourcegrid-labs/ghshard/internal/cliutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := cli.ExecuteContext(ctx)
	os.Exit(cliutil.ExitCodeFor(err))
}
