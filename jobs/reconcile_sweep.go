package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ayeremenko/visa-tracker/models"
	"github.com/ayeremenko/visa-tracker/services"
	"github.com/ayeremenko/visa-tracker/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LoadingChecker reports whether a user currently has a manual fetch in
// flight. The sweep skips such users' items for the cycle.
type LoadingChecker interface {
	IsLoading(userID int64) bool
}

// ReconcileSweep walks every tracked application once a day, refreshes each
// status through the shared fetch path and pushes the result to the owner.
// Items are processed strictly sequentially so the portal never sees a burst.
type ReconcileSweep struct {
	registry      *services.Registry
	statusService *services.StatusService
	notifier      *services.Notifier
	loading       LoadingChecker
	metrics       *shared.EngineMetrics

	sweepHour      int
	trackingExpiry time.Duration

	quit chan struct{}
	done sync.WaitGroup
}

// NewReconcileSweep creates the daily sweep job. sweepHour is the local hour
// of day the sweep fires at; trackingExpiry bounds how long an application
// stays tracked.
func NewReconcileSweep(
	registry *services.Registry,
	statusService *services.StatusService,
	notifier *services.Notifier,
	loading LoadingChecker,
	metrics *shared.EngineMetrics,
	sweepHour int,
	trackingExpiry time.Duration,
) *ReconcileSweep {
	return &ReconcileSweep{
		registry:       registry,
		statusService:  statusService,
		notifier:       notifier,
		loading:        loading,
		metrics:        metrics,
		sweepHour:      sweepHour,
		trackingExpiry: trackingExpiry,
		quit:           make(chan struct{}),
	}
}

// Start launches the scheduler goroutine. Each cycle fires at the configured
// local hour; the next cycle is scheduled only after the current one finishes,
// so overlapping sweeps are impossible.
func (j *ReconcileSweep) Start() {
	j.done.Add(1)
	go func() {
		defer j.done.Done()
		for {
			wait := time.Until(j.nextRunAt(time.Now()))
			logrus.WithFields(logrus.Fields{
				"component": "ReconcileSweep",
				"next_in":   wait.Round(time.Second),
			}).Info("Daily sweep scheduled")

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
				j.RunOnce(context.Background())
			case <-j.quit:
				timer.Stop()
				return
			}
		}
	}()
}

// Stop terminates the scheduler. A sweep already in progress runs to completion.
func (j *ReconcileSweep) Stop() {
	close(j.quit)
	j.done.Wait()
}

func (j *ReconcileSweep) nextRunAt(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), j.sweepHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce executes one full sweep over the registry. A failure on one item
// never aborts the cycle; an undeliverable owner has their whole tracked set
// dropped and is not contacted again within the cycle.
func (j *ReconcileSweep) RunOnce(ctx context.Context) {
	runID := uuid.NewString()
	startedAt := time.Now()
	entries := j.registry.AllEntries()

	logger := logrus.WithFields(logrus.Fields{
		"component": "ReconcileSweep",
		"run_id":    runID,
	})
	logger.WithField("entries", len(entries)).Info("Sweep started")

	droppedOwners := make(map[int64]bool)
	var notified, expired, skipped, failed int

	for _, app := range entries {
		select {
		case <-ctx.Done():
			logger.Warn("Sweep aborted by context")
			return
		default:
		}

		if droppedOwners[app.OwnerID] {
			continue
		}
		if j.loading != nil && j.loading.IsLoading(app.OwnerID) {
			skipped++
			logger.WithFields(logrus.Fields{
				"owner_id":         app.OwnerID,
				"reference_number": app.ReferenceNumber,
			}).Debug("Skipping item, owner has a manual check in flight")
			continue
		}

		// A fresh cache entry short-circuits everything else, including the
		// expiry check: the item costs nothing upstream this cycle.
		if cached, hit := j.statusService.CachedResult(app.ReferenceNumber, app.DateOfBirth); hit {
			if j.notifier.Send(ctx, app.OwnerID, cached.Text, nil) == nil {
				j.dropOwner(logger, app.OwnerID, droppedOwners)
			} else {
				notified++
			}
			continue
		}

		if startedAt.Sub(app.AddedAt) > j.trackingExpiry {
			expired++
			j.expireItem(ctx, logger, app, droppedOwners)
			continue
		}

		result := j.statusService.Fetch(ctx, app.OwnerID, app.ReferenceNumber, app.DateOfBirth, models.StatusCheckSourceSweep)
		switch result.Outcome {
		case services.OutcomeFetched, services.OutcomeCached:
			if j.notifier.Send(ctx, app.OwnerID, result.Text, nil) == nil {
				j.dropOwner(logger, app.OwnerID, droppedOwners)
			} else {
				notified++
			}
		case services.OutcomeRateLimited:
			skipped++
			logger.WithFields(logrus.Fields{
				"owner_id":         app.OwnerID,
				"reference_number": app.ReferenceNumber,
			}).Debug("Skipping item, owner inside cooldown window")
		case services.OutcomeUpstreamError:
			failed++
			logger.WithFields(logrus.Fields{
				"owner_id":         app.OwnerID,
				"reference_number": app.ReferenceNumber,
				"error":            result.Text,
			}).Warn("Portal reported application error during sweep, item kept")
		case services.OutcomeProviderFailure:
			failed++
			logger.WithFields(logrus.Fields{
				"owner_id":         app.OwnerID,
				"reference_number": app.ReferenceNumber,
			}).Warn("Provider failed during sweep, item kept for next cycle")
		}
	}

	j.metrics.RecordSweepRun(startedAt)
	j.metrics.LogSummary()
	logger.WithFields(logrus.Fields{
		"duration":       time.Since(startedAt).Round(time.Millisecond),
		"notified":       notified,
		"expired":        expired,
		"skipped":        skipped,
		"failed":         failed,
		"dropped_owners": len(droppedOwners),
	}).Info("Sweep finished")
}

// expireItem notifies the owner and removes the aged-out item. No status
// fetch happens for expired items.
func (j *ReconcileSweep) expireItem(ctx context.Context, logger *logrus.Entry, app models.TrackedApplication, droppedOwners map[int64]bool) {
	days := int(j.trackingExpiry.Hours() / 24)
	sentID := j.notifier.Send(ctx, app.OwnerID, services.ExpiryNoticeText(app.ReferenceNumber, days), nil)
	j.registry.Remove(app.OwnerID, app.ReferenceNumber)
	logger.WithFields(logrus.Fields{
		"owner_id":         app.OwnerID,
		"reference_number": app.ReferenceNumber,
	}).Info("Expired tracked application removed")

	if sentID == nil {
		j.dropOwner(logger, app.OwnerID, droppedOwners)
	}
}

// dropOwner removes an unreachable owner's entire tracked set.
func (j *ReconcileSweep) dropOwner(logger *logrus.Entry, ownerID int64, droppedOwners map[int64]bool) {
	removed := j.registry.RemoveAllFor(ownerID)
	droppedOwners[ownerID] = true
	logger.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"removed":  removed,
	}).Warn("Owner unreachable, dropped tracked set")
}
