package cliutil

import (
	"errors"

	"github.com/sourcegrid-labs/ghshard/internal/collector"
	"github.com/sourcegrid-labs/ghshard/internal/config"
)

// Exit codes, in increasing order of how specific the failure is.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitConfig      = 1
	ExitIrreducible = 2
)

// ExitCodeFor maps a command's returned error to a process exit code.
// nil maps to ExitOK; an irreducible-saturation scan gets its own code
// so scripts driving ghshard can tell "the scan hit an unresolvable
// condition" apart without parsing stderr. A missing-token
// configuration error exits with ExitConfig, which shares the value 1
// with every other error.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, config.ErrMissingToken) {
		return ExitConfig
	}
	var sat *collector.ErrIrreducibleSaturation
	if errors.As(err, &sat) {
		return ExitIrreducible
	}
	return ExitError
}
