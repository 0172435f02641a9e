package domain

import "time"

// Remaining is the deadline clock: max(0, dueAt-now). The engine owns no timer;
// callers re-evaluate by polling or via the server's sweeper.
func Remaining(now, dueAt time.Time) time.Duration {
	d := dueAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func HasExpired(now, dueAt time.Time) bool {
	return Remaining(now, dueAt) == 0
}
