package handlers

import (
	"context"
	"time"

	"github.com/ayeremenko/visa-tracker/jobs"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type AdminHandler struct {
	Sweep *jobs.ReconcileSweep
}

func NewAdminHandler(sweep *jobs.ReconcileSweep) *AdminHandler {
	return &AdminHandler{Sweep: sweep}
}

// TriggerSweep starts a reconciliation sweep outside the daily schedule. The
// sweep runs in the background; the endpoint returns immediately.
func (h *AdminHandler) TriggerSweep(c *fiber.Ctx) error {
	logrus.Info("Manual sweep triggered via admin endpoint")

	go h.Sweep.RunOnce(context.Background())

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":   true,
		"message":   "Sweep started",
		"timestamp": time.Now(),
	})
}
