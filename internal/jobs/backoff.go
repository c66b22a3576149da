package jobs

import "time"

const (
	// MaxAttempts is the retry ceiling. The attempt that brings a job to
	// this count is its last; the next transient failure kills it.
	MaxAttempts = 5

	backoffBase = 30 * time.Second
	backoffCap  = 30 * time.Minute
)

// BackoffFor returns the delay before the next attempt, given how many
// attempts have already run. Doubles per attempt from the base, capped.
func BackoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	return delay
}
