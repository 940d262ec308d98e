package engine

import "errors"

// Error kinds surfaced by the request dispatcher (spec.md §7). Each is
// fatal for the request that triggered it; none corrupts state that a
// prior successful request committed, since every mutation happens only
// after the corresponding verification step passes.
var (
	// ErrTreeMacMismatch means a counter-tree node's stored MAC did not
	// match its recomputed value during a verify walk.
	ErrTreeMacMismatch = errors.New("engine: tree node MAC mismatch")

	// ErrDataMacMismatch means the data-MAC stored for a line did not match
	// the MAC recomputed over its ciphertext and counter entry.
	ErrDataMacMismatch = errors.New("engine: data MAC mismatch")

	// ErrRequestOutOfRange means the request address fell outside the
	// protected region; rejected at dispatch before touching any state.
	ErrRequestOutOfRange = errors.New("engine: request address out of range")
)
