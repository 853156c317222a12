package pipeline

import "time"

// Backoff returns the delay before the next retry after the given number of
// recorded failures: base doubled per failure, never exceeding ceiling.
func Backoff(base, ceiling time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling > 0 && base >= ceiling {
		return ceiling
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
		if delay <= 0 {
			// Doubling overflowed; clamp when a ceiling is set.
			if ceiling > 0 {
				return ceiling
			}
			return base
		}
	}
	return delay
}
