package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ayeremenko/visa-tracker/models"
	"github.com/ayeremenko/visa-tracker/shared"
)

func newTestStatusService(provider StatusProvider, window time.Duration) *StatusService {
	return NewStatusService(
		provider,
		NewStatusCache(time.Hour),
		shared.NewUserCooldownLimiter(window),
		NewHistoryService(nil),
		shared.NewEngineMetrics(),
		5*time.Second,
	)
}

func TestStatusServiceRateLimitsRepeatCalls(t *testing.T) {
	provider := &fakeProvider{result: StatusResult{OK: true, Status: "s"}}
	service := newTestStatusService(provider, time.Minute)
	dob, _ := models.ParseDateOfBirth("15.06.1990")

	first := service.Fetch(context.Background(), 1, "EVN1", dob, models.StatusCheckSourceManual)
	if first.Outcome != OutcomeFetched {
		t.Fatalf("first outcome = %v", first.Outcome)
	}

	// A different reference bypasses the cache but hits the cooldown.
	second := service.Fetch(context.Background(), 1, "EVN2", dob, models.StatusCheckSourceManual)
	if second.Outcome != OutcomeRateLimited {
		t.Fatalf("second outcome = %v", second.Outcome)
	}
	if !strings.Contains(second.Text, "подождите") || !strings.Contains(second.Text, "секунд") {
		t.Errorf("rate limit text = %q", second.Text)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.callCount())
	}
}

func TestStatusServiceCacheHitBypassesCooldown(t *testing.T) {
	provider := &fakeProvider{result: StatusResult{OK: true, Status: "s"}}
	service := newTestStatusService(provider, time.Minute)
	dob, _ := models.ParseDateOfBirth("15.06.1990")

	service.Fetch(context.Background(), 1, "EVN1", dob, models.StatusCheckSourceManual)

	// Same reference again: served from cache even inside the cooldown.
	result := service.Fetch(context.Background(), 1, "EVN1", dob, models.StatusCheckSourceManual)
	if result.Outcome != OutcomeCached {
		t.Fatalf("outcome = %v, want cached", result.Outcome)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.callCount())
	}
}

func TestStatusServiceProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("portal down")}
	service := newTestStatusService(provider, time.Minute)
	dob, _ := models.ParseDateOfBirth("15.06.1990")

	result := service.Fetch(context.Background(), 1, "EVN777", dob, models.StatusCheckSourceManual)
	if result.Outcome != OutcomeProviderFailure {
		t.Fatalf("outcome = %v", result.Outcome)
	}
	if result.Text != "Не удалось получить статус заявки EVN777" {
		t.Errorf("failure text = %q", result.Text)
	}
}

func TestStatusServiceUpstreamErrorPassesThrough(t *testing.T) {
	provider := &fakeProvider{result: StatusResult{OK: false, Error: "Ошибка: Неверно указан номер заявления"}}
	service := newTestStatusService(provider, time.Minute)
	dob, _ := models.ParseDateOfBirth("15.06.1990")

	result := service.Fetch(context.Background(), 1, "EVN1", dob, models.StatusCheckSourceManual)
	if result.Outcome != OutcomeUpstreamError {
		t.Fatalf("outcome = %v", result.Outcome)
	}
	if result.Text != "Ошибка: Неверно указан номер заявления" {
		t.Errorf("text = %q", result.Text)
	}

	// Portal-reported errors are not cached.
	again := service.Fetch(context.Background(), 2, "EVN1", dob, models.StatusCheckSourceManual)
	if again.Outcome != OutcomeUpstreamError {
		t.Errorf("second outcome = %v, upstream errors must not populate the cache", again.Outcome)
	}
}
