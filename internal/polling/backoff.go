package polling

import "time"

// NextRetryDelay returns interval * 2^retryCount, capped at maxDelay.
func NextRetryDelay(interval time.Duration, retryCount int, maxDelay time.Duration) time.Duration {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffCap
	}
	if retryCount < 0 {
		retryCount = 0
	}
	delay := interval
	for i := 0; i < retryCount; i++ {
		if delay >= maxDelay {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
