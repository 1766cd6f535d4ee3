package cadence

import "time"

// Spec describes when a schedule entry fires.
type Spec interface {
	// IsDueAt reports whether the entry should fire at now, given the time
	// it last fired. A zero lastFired means it never fired.
	IsDueAt(now, lastFired time.Time) bool

	// Next returns the next activation time later than the given time,
	// ignoring when the entry last fired.
	Next(time.Time) time.Time

	// String returns the timing description it was parsed from.
	String() string
}
