// Package logger provides verbose logging for ghshard.
// When verbose mode is enabled via the --verbose flag, debug messages
// are printed to stderr to help users understand the scan and fetch
// pipelines. Progress lines (chunk boundaries, batch counters) are
// printed unconditionally via Progress, matching the always-on
// progress reporting of the Python original this was distilled from.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

var (
	mu          sync.RWMutex
	verbose     bool
	output      io.Writer = os.Stderr
	isTerminal            = term.IsTerminal(int(os.Stderr.Fd()))
)

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for verbose logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "[DEBUG] "+format+"\n", args...)
	}
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "[INFO] "+format+"\n", args...)
	}
}

// Warn prints a warning message if verbose mode is enabled.
func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "[WARN] "+format+"\n", args...)
	}
}

// Progress prints an unconditional, overwritable status line: a
// carriage return when stderr is a terminal (so repeated calls redraw
// in place, as the collector and fetch passes do across chunks and
// batches), or a plain newline when it is not (piped output, CI logs)
// so the full history of lines stays readable.
func Progress(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	line := fmt.Sprintf(format, args...)
	if isTerminal {
		fmt.Fprintf(output, "\033[2K\r%s", line)
	} else {
		fmt.Fprintln(output, line)
	}
}

// ProgressDone terminates a run of Progress lines with a trailing
// newline so subsequent output starts on its own line.
func ProgressDone() {
	mu.RLock()
	defer mu.RUnlock()
	if isTerminal {
		fmt.Fprintln(output)
	}
}
