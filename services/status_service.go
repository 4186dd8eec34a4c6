package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ayeremenko/visa-tracker/models"
	"github.com/ayeremenko/visa-tracker/shared"
	"github.com/sirupsen/logrus"
)

// FetchOutcome classifies one pass through the shared fetch path.
type FetchOutcome int

const (
	// OutcomeCached means the cache answered; no provider call, no rate-limit consumption.
	OutcomeCached FetchOutcome = iota
	// OutcomeFetched means the provider returned a status.
	OutcomeFetched
	// OutcomeUpstreamError means the provider reached the portal but the
	// portal reported an application-level error (wrong number, wrong date).
	OutcomeUpstreamError
	// OutcomeRateLimited means the caller is inside the cooldown window.
	OutcomeRateLimited
	// OutcomeProviderFailure means the provider itself failed (network,
	// captcha, parsing). Transient; the tracked item must not be removed.
	OutcomeProviderFailure
)

// FetchResult carries the outcome plus ready-to-send user-facing text.
type FetchResult struct {
	Outcome FetchOutcome
	Text    string
	Status  string
}

// StatusService is the single fetch-and-format path shared by the
// conversation state machine and the reconciliation sweep. Routing every
// lookup through here guarantees the two paths never duplicate outstanding
// work for the same reference number: the cache is always consulted first
// and always repopulated after a successful call.
type StatusService struct {
	provider StatusProvider
	cache    *StatusCache
	limiter  *shared.UserCooldownLimiter
	history  *HistoryService
	metrics  *shared.EngineMetrics
	timeout  time.Duration
}

// NewStatusService wires the fetch path. history may be disabled (nil db).
func NewStatusService(
	provider StatusProvider,
	cache *StatusCache,
	limiter *shared.UserCooldownLimiter,
	history *HistoryService,
	metrics *shared.EngineMetrics,
	timeout time.Duration,
) *StatusService {
	return &StatusService{
		provider: provider,
		cache:    cache,
		limiter:  limiter,
		history:  history,
		metrics:  metrics,
		timeout:  timeout,
	}
}

// CachedResult answers from the cache alone, without consuming the cooldown
// or touching the provider. The sweep uses it to decide whether an item needs
// any upstream work at all this cycle.
func (s *StatusService) CachedResult(referenceNumber string, dateOfBirth time.Time) (FetchResult, bool) {
	status, updatedAt, hit := s.cache.Get(referenceNumber, dateOfBirth, time.Now())
	if !hit {
		return FetchResult{}, false
	}
	return FetchResult{
		Outcome: OutcomeCached,
		Status:  status,
		Text:    formatCachedStatusText(referenceNumber, status, updatedAt),
	}, true
}

// Fetch resolves the current status for one (user, reference, date of birth)
// triple: cache first, then the per-user cooldown gate, then the provider.
// The cooldown timestamp is recorded at attempt time and a rejected attempt
// never resets it. Cache hits bypass the gate entirely.
func (s *StatusService) Fetch(ctx context.Context, userID int64, referenceNumber string, dateOfBirth time.Time, source models.StatusCheckSource) FetchResult {
	now := time.Now()

	if status, updatedAt, hit := s.cache.Get(referenceNumber, dateOfBirth, now); hit {
		s.metrics.RecordCacheLookup(true)
		return FetchResult{
			Outcome: OutcomeCached,
			Status:  status,
			Text:    formatCachedStatusText(referenceNumber, status, updatedAt),
		}
	}
	s.metrics.RecordCacheLookup(false)

	if remaining, allowed := s.limiter.CheckAndRecord(userID, now); !allowed {
		s.metrics.RecordRateLimited()
		seconds := int(math.Round(remaining.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		return FetchResult{
			Outcome: OutcomeRateLimited,
			Text:    fmt.Sprintf("Пожалуйста, подождите %d секунд перед следующим запросом", seconds),
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.provider.FetchStatus(fetchCtx, referenceNumber, dateOfBirth)
	if err != nil {
		s.metrics.RecordProviderCall(false)
		var svcErr *shared.ServiceError
		if errors.As(err, &svcErr) {
			svcErr.LogError()
		} else {
			logrus.WithFields(logrus.Fields{
				"component":        "StatusService",
				"reference_number": referenceNumber,
				"source":           source,
			}).WithError(err).Error("Provider fetch failed")
		}
		return FetchResult{
			Outcome: OutcomeProviderFailure,
			Text:    "Не удалось получить статус заявки " + referenceNumber,
		}
	}
	s.metrics.RecordProviderCall(true)

	if !result.OK {
		return FetchResult{
			Outcome: OutcomeUpstreamError,
			Text:    result.Error,
		}
	}

	s.cache.Put(referenceNumber, dateOfBirth, result.Status, time.Now())
	s.recordHistory(ctx, referenceNumber, result.Status, source)

	return FetchResult{
		Outcome: OutcomeFetched,
		Status:  result.Status,
		Text:    formatStatusText(referenceNumber, result.Status),
	}
}

func (s *StatusService) recordHistory(ctx context.Context, referenceNumber, status string, source models.StatusCheckSource) {
	if s.history == nil || !s.history.Enabled() {
		return
	}
	if err := s.history.Record(ctx, referenceNumber, status, source); err != nil {
		logrus.WithFields(logrus.Fields{
			"component":        "StatusService",
			"reference_number": referenceNumber,
		}).WithError(err).Warn("Failed to record status check history")
	}
}

func formatStatusText(referenceNumber, status string) string {
	return "Статус заявки " + referenceNumber + ": " + status
}

func formatCachedStatusText(referenceNumber, status string, updatedAt time.Time) string {
	return fmt.Sprintf("%s\n\n(обновлено в %s)",
		formatStatusText(referenceNumber, status),
		updatedAt.Local().Format("15:04"),
	)
}
