package worker

import (
	"math/rand"
	"time"
)

// backoffSchedule caps retries at one attempt per hour.
var backoffSchedule = []time.Duration{
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	480 * time.Second,
	900 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
}

// NextAttemptAt schedules the retry after the given number of prior attempts,
// with a uniform 0.8-1.2 jitter so retries never line up.
func NextAttemptAt(now time.Time, attempts int) time.Time {
	idx := attempts
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}

	base := backoffSchedule[idx]
	jitter := 0.8 + 0.4*rand.Float64()
	return now.Add(time.Duration(float64(base) * jitter))
}
