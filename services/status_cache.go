package services

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// statusCacheEntry memoizes one provider result. The stored date of birth
// guards against two people reusing the same displayed reference string with
// different birth dates: a mismatch is a miss, never a cross-contaminated hit.
type statusCacheEntry struct {
	dateOfBirth time.Time
	status      string
	updatedAt   time.Time
}

// StatusCache is the shared, time-bounded memo of provider results keyed by
// reference number. It is the coalescing point: both the manual fetch path
// and the scheduled sweep consult it before calling the provider and populate
// it after every successful call, so N users tracking the same reference
// within the TTL window produce at most one upstream call.
//
// Entries are never deleted, only superseded; stale entries are ignored.
type StatusCache struct {
	entries map[string]statusCacheEntry
	mutex   sync.RWMutex
	ttl     time.Duration
}

// NewStatusCache creates a cache with the given entry TTL.
func NewStatusCache(ttl time.Duration) *StatusCache {
	return &StatusCache{
		entries: make(map[string]statusCacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached status and its update time. A miss occurs on
// absence, on TTL expiry, or when the caller's date of birth differs from the
// one the entry was fetched with. Dates are compared by epoch value; both
// sides are normalized to local noon before they ever reach the cache.
func (c *StatusCache) Get(referenceNumber string, dateOfBirth time.Time, now time.Time) (string, time.Time, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[referenceNumber]
	if !exists {
		return "", time.Time{}, false
	}
	if now.Sub(entry.updatedAt) >= c.ttl {
		return "", time.Time{}, false
	}
	if entry.dateOfBirth.UnixMilli() != dateOfBirth.UnixMilli() {
		logrus.WithFields(logrus.Fields{
			"component":        "StatusCache",
			"reference_number": referenceNumber,
		}).Debug("Cache entry rejected: date of birth mismatch")
		return "", time.Time{}, false
	}
	return entry.status, entry.updatedAt, true
}

// Put stores or overwrites the entry for a reference number.
func (c *StatusCache) Put(referenceNumber string, dateOfBirth time.Time, status string, now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[referenceNumber] = statusCacheEntry{
		dateOfBirth: dateOfBirth,
		status:      status,
		updatedAt:   now,
	}
}

// Size returns the number of entries, fresh and stale, for ops reporting.
func (c *StatusCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}
