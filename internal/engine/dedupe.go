package engine

import (
	"time"

	"price-gap-monitor/internal/storage"
)

// Deduplicator suppresses repeat alerts of one identity inside a rolling
// window anchored to alert creation time, not to the evaluation cycle. A
// long-running breach therefore produces one alert per window, not one per
// poll.
type Deduplicator struct {
	Window time.Duration
}

// WindowStart returns the earliest creation time still inside the window.
func (d Deduplicator) WindowStart(now time.Time) time.Time {
	return now.Add(-d.Window)
}

// IsDuplicate reports whether a candidate alert is suppressed by the given
// set of same-identity alerts opened inside the window. Resolving an alert
// does not shorten its window; only elapsed time does.
func (d Deduplicator) IsDuplicate(recent []storage.Alert) bool {
	return len(recent) > 0
}
