package handlers

import (
	"github.com/ayeremenko/visa-tracker/models"
	"github.com/ayeremenko/visa-tracker/services"
	"github.com/ayeremenko/visa-tracker/shared"
	"github.com/gofiber/fiber/v2"
)

type StatusHandler struct {
	Registry *services.Registry
	Cache    *services.StatusCache
	History  *services.HistoryService
	Metrics  *shared.EngineMetrics
}

func NewStatusHandler(registry *services.Registry, cache *services.StatusCache, history *services.HistoryService, metrics *shared.EngineMetrics) *StatusHandler {
	return &StatusHandler{
		Registry: registry,
		Cache:    cache,
		History:  history,
		Metrics:  metrics,
	}
}

// GetStats reports engine counters, cache size and registry totals.
func (h *StatusHandler) GetStats(c *fiber.Ctx) error {
	owners, applications := h.Registry.CountOwners()

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"metrics":         h.Metrics.GetSnapshot(),
			"cache_entries":   h.Cache.Size(),
			"owners":          owners,
			"applications":    applications,
			"history_enabled": h.History.Enabled(),
		},
	})
}

// GetHistory returns the recorded status checks for one reference number.
func (h *StatusHandler) GetHistory(c *fiber.Ctx) error {
	reference := c.Params("reference")
	if !models.ValidReferenceNumber(reference) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid reference number",
		})
	}

	if !h.History.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "History persistence is disabled",
		})
	}

	checks, err := h.History.ListByReference(c.Context(), reference, c.QueryInt("limit", 20))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    checks,
		"count":   len(checks),
	})
}
