package utils

import "time"

// Now returns the current time in UTC. All persisted timestamps go through
// this so lease and backoff comparisons are in a single clock domain.
func Now() time.Time {
	return time.Now().UTC()
}
