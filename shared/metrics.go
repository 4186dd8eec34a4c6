package shared

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EngineMetrics tracks counters for the tracking and notification engine.
// One instance is constructed in main and shared by the fetch path, the
// dispatcher and the sweep job; the ops HTTP surface reports a snapshot.
type EngineMetrics struct {
	mutex sync.RWMutex

	ProviderCalls       int64
	ProviderFailures    int64
	CacheHits           int64
	CacheMisses         int64
	RateLimitedAttempts int64
	NotificationsSent   int64
	NotificationsFailed int64
	SweepRuns           int64
	LastSweepAt         time.Time
}

// NewEngineMetrics creates a zeroed metrics collector.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{}
}

func (m *EngineMetrics) RecordProviderCall(success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ProviderCalls++
	if !success {
		m.ProviderFailures++
	}
}

func (m *EngineMetrics) RecordCacheLookup(hit bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if hit {
		m.CacheHits++
	} else {
		m.CacheMisses++
	}
}

func (m *EngineMetrics) RecordRateLimited() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.RateLimitedAttempts++
}

func (m *EngineMetrics) RecordNotification(success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if success {
		m.NotificationsSent++
	} else {
		m.NotificationsFailed++
	}
}

func (m *EngineMetrics) RecordSweepRun(at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.SweepRuns++
	m.LastSweepAt = at
}

// GetSnapshot returns a consistent copy of all counters for reporting.
func (m *EngineMetrics) GetSnapshot() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snapshot := map[string]interface{}{
		"provider_calls":        m.ProviderCalls,
		"provider_failures":     m.ProviderFailures,
		"cache_hits":            m.CacheHits,
		"cache_misses":          m.CacheMisses,
		"rate_limited_attempts": m.RateLimitedAttempts,
		"notifications_sent":    m.NotificationsSent,
		"notifications_failed":  m.NotificationsFailed,
		"sweep_runs":            m.SweepRuns,
	}
	if !m.LastSweepAt.IsZero() {
		snapshot["last_sweep_at"] = m.LastSweepAt.Format(time.RFC3339)
	}
	return snapshot
}

// LogSummary logs current counters with structured fields.
func (m *EngineMetrics) LogSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	logrus.WithFields(logrus.Fields{
		"provider_calls":        m.ProviderCalls,
		"provider_failures":     m.ProviderFailures,
		"cache_hits":            m.CacheHits,
		"cache_misses":          m.CacheMisses,
		"rate_limited_attempts": m.RateLimitedAttempts,
		"notifications_sent":    m.NotificationsSent,
		"notifications_failed":  m.NotificationsFailed,
		"sweep_runs":            m.SweepRuns,
	}).Info("Engine metrics summary")
}
