package services

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ayeremenko/visa-tracker/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyTracked is returned when an owner re-adds a reference number
	// they already track. The existing entry is left untouched.
	ErrAlreadyTracked = errors.New("reference number already tracked")
	// ErrLimitReached is returned when an owner is at the tracked-item cap.
	ErrLimitReached = errors.New("tracked application limit reached")
)

// Registry is the durable store of tracked applications. The in-memory map
// is authoritative; every mutation schedules a full-snapshot write through a
// single-writer goroutine. Save requests coalesce on a signal channel: the
// writer serializes state at write time, so a signal arriving while one is
// already pending is safely absorbed and no update is ever silently lost.
type Registry struct {
	filePath     string
	maxPerOwner  int
	applications map[int64][]models.TrackedApplication
	mutex        sync.RWMutex

	saveSignal chan struct{}
	quit       chan struct{}
	writerDone sync.WaitGroup
}

// NewRegistry loads the registry file (tolerating blank and malformed lines)
// and starts the writer goroutine.
func NewRegistry(filePath string, maxPerOwner int) (*Registry, error) {
	registry := &Registry{
		filePath:     filePath,
		maxPerOwner:  maxPerOwner,
		applications: make(map[int64][]models.TrackedApplication),
		saveSignal:   make(chan struct{}, 1),
		quit:         make(chan struct{}),
	}
	if err := registry.load(); err != nil {
		return nil, err
	}

	registry.writerDone.Add(1)
	go registry.writeLoop()

	return registry, nil
}

func (r *Registry) load() error {
	file, err := os.Open(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"component": "Registry",
				"file":      r.filePath,
			}).Info("Registry file does not exist yet, starting empty")
			return nil
		}
		return fmt.Errorf("open registry file: %w", err)
	}
	defer file.Close()

	loaded := 0
	skipped := 0
	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		app, err := models.ParseRegistryLine(line)
		if err != nil {
			skipped++
			logrus.WithFields(logrus.Fields{
				"component": "Registry",
				"file":      r.filePath,
				"line":      lineNumber,
			}).WithError(err).Warn("Skipping malformed registry line")
			continue
		}
		r.applications[app.OwnerID] = append(r.applications[app.OwnerID], app)
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read registry file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "Registry",
		"loaded":    loaded,
		"skipped":   skipped,
	}).Info("Registry loaded")
	return nil
}

// writeLoop is the single writer. It drains one pending signal on shutdown
// so a mutation scheduled just before Close is still flushed.
func (r *Registry) writeLoop() {
	defer r.writerDone.Done()
	for {
		select {
		case <-r.saveSignal:
			r.writeSnapshot()
		case <-r.quit:
			select {
			case <-r.saveSignal:
				r.writeSnapshot()
			default:
			}
			return
		}
	}
}

// writeSnapshot serializes the full current set and atomically replaces the
// registry file (write temp, rename) so a crash never leaves a torn file.
func (r *Registry) writeSnapshot() {
	r.mutex.RLock()
	lines := make([]string, 0, 16)
	for _, apps := range r.applications {
		for _, app := range apps {
			lines = append(lines, models.FormatRegistryLine(app))
		}
	}
	r.mutex.RUnlock()

	sort.Strings(lines)

	if dir := filepath.Dir(r.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.WithField("component", "Registry").WithError(err).Error("Failed to create registry directory")
			return
		}
	}

	tempPath := r.filePath + ".tmp"
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(tempPath, []byte(content), 0o644); err != nil {
		logrus.WithField("component", "Registry").WithError(err).Error("Failed to write registry snapshot")
		return
	}
	if err := os.Rename(tempPath, r.filePath); err != nil {
		logrus.WithField("component", "Registry").WithError(err).Error("Failed to replace registry file")
		return
	}

	logrus.WithFields(logrus.Fields{
		"component": "Registry",
		"records":   len(lines),
	}).Debug("Registry snapshot persisted")
}

// requestSave schedules a snapshot write without blocking. The writer reads
// state at write time, so coalesced requests still persist the latest set.
func (r *Registry) requestSave() {
	select {
	case r.saveSignal <- struct{}{}:
	default:
	}
}

// Upsert registers a new tracked application for its owner, enforcing
// uniqueness by reference number and the per-owner cap. A rejected upsert
// never mutates the existing set.
func (r *Registry) Upsert(app models.TrackedApplication) error {
	r.mutex.Lock()
	existing := r.applications[app.OwnerID]
	for _, tracked := range existing {
		if tracked.ReferenceNumber == app.ReferenceNumber {
			r.mutex.Unlock()
			return ErrAlreadyTracked
		}
	}
	if len(existing) >= r.maxPerOwner {
		r.mutex.Unlock()
		return ErrLimitReached
	}
	r.applications[app.OwnerID] = append(existing, app)
	r.mutex.Unlock()

	r.requestSave()
	return nil
}

// Remove deletes one tracked application. Removing an unknown reference is a no-op.
func (r *Registry) Remove(ownerID int64, referenceNumber string) {
	r.mutex.Lock()
	existing := r.applications[ownerID]
	filtered := existing[:0]
	for _, tracked := range existing {
		if tracked.ReferenceNumber != referenceNumber {
			filtered = append(filtered, tracked)
		}
	}
	if len(filtered) == 0 {
		delete(r.applications, ownerID)
	} else {
		r.applications[ownerID] = filtered
	}
	changed := len(filtered) != len(existing)
	r.mutex.Unlock()

	if changed {
		r.requestSave()
	}
}

// RemoveAllFor drops an owner's entire tracked set. Used when dispatch to the
// owner fails: unreachability is taken as a signal the relationship is dead.
func (r *Registry) RemoveAllFor(ownerID int64) int {
	r.mutex.Lock()
	removed := len(r.applications[ownerID])
	delete(r.applications, ownerID)
	r.mutex.Unlock()

	if removed > 0 {
		r.requestSave()
	}
	return removed
}

// ListFor returns a copy of an owner's tracked applications, oldest first.
func (r *Registry) ListFor(ownerID int64) []models.TrackedApplication {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	apps := r.applications[ownerID]
	result := make([]models.TrackedApplication, len(apps))
	copy(result, apps)
	sort.Slice(result, func(i, j int) bool { return result[i].AddedAt.Before(result[j].AddedAt) })
	return result
}

// Find returns an owner's tracked application by reference number.
func (r *Registry) Find(ownerID int64, referenceNumber string) (models.TrackedApplication, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, tracked := range r.applications[ownerID] {
		if tracked.ReferenceNumber == referenceNumber {
			return tracked, true
		}
	}
	return models.TrackedApplication{}, false
}

// AllEntries returns every tracked application across all owners, grouped by
// owner and oldest first within a group, for the scheduler's full sweep.
func (r *Registry) AllEntries() []models.TrackedApplication {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]models.TrackedApplication, 0, 16)
	for _, apps := range r.applications {
		result = append(result, apps...)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OwnerID != result[j].OwnerID {
			return result[i].OwnerID < result[j].OwnerID
		}
		return result[i].AddedAt.Before(result[j].AddedAt)
	})
	return result
}

// CountOwners returns (owners, applications) totals for ops reporting.
func (r *Registry) CountOwners() (int, int) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	total := 0
	for _, apps := range r.applications {
		total += len(apps)
	}
	return len(r.applications), total
}

// Close stops the writer after flushing any pending save.
func (r *Registry) Close() {
	close(r.quit)
	r.writerDone.Wait()
}
