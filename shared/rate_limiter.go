package shared

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// UserCooldownLimiter enforces a per-user minimum interval between status
// provider calls. The timestamp is recorded only when the call is allowed,
// so a rejected attempt never resets the window.
type UserCooldownLimiter struct {
	window       time.Duration
	lastAttempts map[int64]time.Time
	mutex        sync.Mutex
}

// NewUserCooldownLimiter creates a limiter with the given cooldown window.
func NewUserCooldownLimiter(window time.Duration) *UserCooldownLimiter {
	return &UserCooldownLimiter{
		window:       window,
		lastAttempts: make(map[int64]time.Time),
	}
}

// CheckAndRecord returns (0, true) and records the attempt when the user is
// allowed to trigger a provider call, or (remaining, false) when the user is
// still inside the cooldown window.
func (limiter *UserCooldownLimiter) CheckAndRecord(userID int64, now time.Time) (time.Duration, bool) {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	if last, exists := limiter.lastAttempts[userID]; exists {
		elapsed := now.Sub(last)
		if elapsed < limiter.window {
			remaining := limiter.window - elapsed
			logrus.WithFields(logrus.Fields{
				"component": "UserCooldownLimiter",
				"user_id":   userID,
				"remaining": remaining,
			}).Debug("Rejected provider call attempt inside cooldown window")
			return remaining, false
		}
	}

	limiter.lastAttempts[userID] = now
	return 0, true
}

// HTTPRequestRateLimiter implements thread-safe politeness delays between
// upstream HTTP requests. Unlike the per-user cooldown it blocks the caller
// until the minimum delay has elapsed.
type HTTPRequestRateLimiter struct {
	minimumDelay    time.Duration
	lastRequestTime time.Time
	mutex           sync.Mutex
	requestCount    int64
}

// NewHTTPRequestRateLimiter creates a new rate limiter with the specified minimum delay
func NewHTTPRequestRateLimiter(minimumDelay time.Duration) *HTTPRequestRateLimiter {
	return &HTTPRequestRateLimiter{
		minimumDelay:    minimumDelay,
		lastRequestTime: time.Now(),
	}
}

// EnforceRateLimit blocks execution until the minimum delay has elapsed since the last request
func (limiter *HTTPRequestRateLimiter) EnforceRateLimit() {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	elapsedTime := time.Since(limiter.lastRequestTime)
	if elapsedTime < limiter.minimumDelay {
		remainingDelay := limiter.minimumDelay - elapsedTime

		logrus.WithFields(logrus.Fields{
			"component":       "HTTPRequestRateLimiter",
			"elapsed_time":    elapsedTime,
			"minimum_delay":   limiter.minimumDelay,
			"remaining_delay": remainingDelay,
			"request_count":   limiter.requestCount + 1,
		}).Debug("Enforcing rate limit delay")

		time.Sleep(remainingDelay)
	}

	limiter.lastRequestTime = time.Now()
	limiter.requestCount++
}

// GetRequestCount returns the total number of requests processed
func (limiter *HTTPRequestRateLimiter) GetRequestCount() int64 {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	return limiter.requestCount
}
