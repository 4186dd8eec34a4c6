package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ayeremenko/visa-tracker/services"
	"github.com/sirupsen/logrus"
)

// HistoryCleanup periodically trims old status check rows. With history
// persistence disabled every cycle is a no-op.
type HistoryCleanup struct {
	history   *services.HistoryService
	retention time.Duration
	interval  time.Duration

	quit chan struct{}
	done sync.WaitGroup
}

// NewHistoryCleanup creates the cleanup job.
func NewHistoryCleanup(history *services.HistoryService, retention, interval time.Duration) *HistoryCleanup {
	return &HistoryCleanup{
		history:   history,
		retention: retention,
		interval:  interval,
		quit:      make(chan struct{}),
	}
}

// Start launches the cleanup ticker goroutine.
func (j *HistoryCleanup) Start() {
	if !j.history.Enabled() {
		logrus.WithField("component", "HistoryCleanup").Info("History persistence disabled, cleanup job not started")
		return
	}

	j.done.Add(1)
	go func() {
		defer j.done.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.RunOnce(context.Background())
			case <-j.quit:
				return
			}
		}
	}()
}

// Stop terminates the cleanup ticker.
func (j *HistoryCleanup) Stop() {
	close(j.quit)
	j.done.Wait()
}

// RunOnce deletes history rows older than the retention window.
func (j *HistoryCleanup) RunOnce(ctx context.Context) {
	if err := j.history.CleanupOlderThan(ctx, j.retention); err != nil {
		logrus.WithField("component", "HistoryCleanup").WithError(err).Error("History cleanup failed")
	}
}
