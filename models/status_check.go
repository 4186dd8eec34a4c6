package models

import "time"

// StatusCheckSource identifies which path produced a provider fetch.
type StatusCheckSource string

const (
	StatusCheckSourceManual StatusCheckSource = "manual"
	StatusCheckSourceSweep  StatusCheckSource = "sweep"
)

// StatusCheck is one successful provider fetch recorded in the history table.
type StatusCheck struct {
	ID              string            `json:"id"`
	ReferenceNumber string            `json:"reference_number"`
	Status          string            `json:"status"`
	Source          StatusCheckSource `json:"source"`
	CheckedAt       time.Time         `json:"checked_at"`
}
