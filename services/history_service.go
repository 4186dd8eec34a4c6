package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/ayeremenko/visa-tracker/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HistoryService records every successful provider fetch in postgres so the
// ops surface can show how an application moved through its stages. The
// whole layer is optional: with a nil db every method is a cheap no-op.
type HistoryService struct {
	db *sql.DB
}

// NewHistoryService creates the history layer. db may be nil (disabled).
func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Enabled reports whether history persistence is active.
func (h *HistoryService) Enabled() bool {
	return h != nil && h.db != nil
}

// Record inserts one status check row.
func (h *HistoryService) Record(ctx context.Context, referenceNumber, status string, source models.StatusCheckSource) error {
	if !h.Enabled() {
		return nil
	}

	query := `
		INSERT INTO status_checks (id, reference_number, status, source, checked_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := h.db.ExecContext(ctx, query,
		uuid.NewString(), referenceNumber, status, string(source), time.Now(),
	)
	return err
}

// ListByReference returns the most recent checks for a reference number.
func (h *HistoryService) ListByReference(ctx context.Context, referenceNumber string, limit int) ([]models.StatusCheck, error) {
	if !h.Enabled() {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, reference_number, status, source, checked_at
		FROM status_checks
		WHERE reference_number = $1
		ORDER BY checked_at DESC
		LIMIT $2
	`
	rows, err := h.db.QueryContext(ctx, query, referenceNumber, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []models.StatusCheck
	for rows.Next() {
		var check models.StatusCheck
		var source string
		if err := rows.Scan(&check.ID, &check.ReferenceNumber, &check.Status, &source, &check.CheckedAt); err != nil {
			return nil, err
		}
		check.Source = models.StatusCheckSource(source)
		checks = append(checks, check)
	}
	return checks, rows.Err()
}

// CleanupOlderThan deletes history rows past the retention window.
func (h *HistoryService) CleanupOlderThan(ctx context.Context, retention time.Duration) error {
	if !h.Enabled() {
		return nil
	}

	result, err := h.db.ExecContext(ctx,
		`DELETE FROM status_checks WHERE checked_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		logrus.WithFields(logrus.Fields{
			"component": "HistoryService",
			"deleted":   rowsAffected,
		}).Info("Cleaned up expired status check history")
	}
	return nil
}
