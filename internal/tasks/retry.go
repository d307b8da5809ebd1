package tasks

import "time"

// Policy decides how many attempts a single asset gets and how long to wait
// between them. It never sleeps itself; callers own the waiting so the policy
// stays testable without real time passing.
type Policy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// Delay returns the backoff before retrying after failed attempt i (0-based).
// The last configured delay repeats for attempts beyond the list.
func (p Policy) Delay(i int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if i >= len(p.Delays) {
		i = len(p.Delays) - 1
	}
	if i < 0 {
		i = 0
	}
	return p.Delays[i]
}

// Next reports whether another attempt is allowed after failed attempt i
// (0-based) and, if so, how long to wait first.
func (p Policy) Next(i int) (time.Duration, bool) {
	if i+1 >= p.MaxAttempts {
		return 0, false
	}
	return p.Delay(i), true
}
