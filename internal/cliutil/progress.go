package cliutil

import "github.com/dustin/go-humanize"

// Comma formats n with thousands separators, for the progress and
// summary lines each command prints — matching the original's own
// f"{n:,}" formatting in its console output.
func Comma(n int) string {
	return humanize.Comma(int64(n))
}
