package collector

import "fmt"

// ErrIrreducibleSaturation is returned when a chunk's width has already
// been halved to its 1-byte floor and the host still reports a
// saturated count for it — a single byte size holding more matches
// than the host's per-query result cap, which no further narrowing on
// the size axis can resolve.
type ErrIrreducibleSaturation struct {
	Size  uint64
	Count int
}

func (e *ErrIrreducibleSaturation) Error() string {
	return fmt.Sprintf("collector: irreducible saturation at size %d (%d results, floor width reached)", e.Size, e.Count)
}
