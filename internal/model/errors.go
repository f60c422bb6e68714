package model

import "github.com/kepler-labs/transcriptvault/internal/enginerr"

// errInvariant is returned by a validated factory when its inputs violate
// one of this package's invariants (empty id, confidence out of range, an
// unknown enum variant, a decision entity missing required metadata). These
// are programmer errors: they indicate corrupt inputs, not user mistakes,
// and propagate rather than being recorded as a per-session result.
func errInvariant(msg string) error {
	return enginerr.New(enginerr.InvariantViolation, msg)
}
