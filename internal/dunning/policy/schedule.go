// Package policy holds the retry backoff schedule. It is pure and carries no
// state; the orchestrator and the scheduler both consult it.
package policy

import "time"

// retryScheduleDays escalates the wait between attempts and clamps at the
// last entry, bounding the worst-case gap at 30 days no matter how many
// consecutive failures occur.
var retryScheduleDays = [...]int{3, 7, 14, 30}

// DaysUntilNextRetry returns the number of days to wait before the next
// attempt. retryCount is the count after incrementing for the current
// failure and must be >= 1; larger counts clamp to the last table entry.
func DaysUntilNextRetry(retryCount int) int {
	index := retryCount - 1
	if index < 0 {
		index = 0
	}
	if index >= len(retryScheduleDays) {
		index = len(retryScheduleDays) - 1
	}
	return retryScheduleDays[index]
}

// NextRetryAt applies the schedule to a reference time.
func NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.UTC().AddDate(0, 0, DaysUntilNextRetry(retryCount))
}
