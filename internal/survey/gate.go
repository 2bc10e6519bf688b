package survey

import "time"

// decision is the outcome of one gating pass: either a permanent skip or a
// wait until the prompt may fire. wait == 0 means fire immediately.
type decision struct {
	skip bool
	wait time.Duration
}

// remindWait computes the wait after a postponement request: the remind-later
// instant plus the configured delay, clamped to zero once due. Unparseable
// dates fire immediately.
func remindWait(now time.Time, raw string, delay time.Duration) decision {
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return decision{wait: 0}
	}
	wait := at.Add(delay).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return decision{wait: wait}
}

// installGate computes the wait from the install age. Installations with an
// unreadable first-session date, or older than maxAge, are never surveyed.
func installGate(now time.Time, firstSession string, waitToShow, maxAge time.Duration) decision {
	first, err := time.Parse(time.RFC3339, firstSession)
	if err != nil {
		return decision{skip: true}
	}
	age := now.Sub(first)
	if age >= maxAge {
		return decision{skip: true}
	}
	if age < waitToShow {
		return decision{wait: waitToShow - age}
	}
	return decision{wait: 0}
}
