package services

import (
	"testing"
	"time"

	"github.com/ayeremenko/visa-tracker/models"
)

func TestStatusCacheHitWithinTTL(t *testing.T) {
	cache := NewStatusCache(time.Hour)
	dob, _ := models.ParseDateOfBirth("15.06.1990")
	now := time.Now()

	cache.Put("EVN1", dob, "Processing at mission", now)

	status, updatedAt, hit := cache.Get("EVN1", dob, now.Add(10*time.Second))
	if !hit {
		t.Fatal("expected cache hit inside TTL")
	}
	if status != "Processing at mission" {
		t.Errorf("status = %q", status)
	}
	if !updatedAt.Equal(now) {
		t.Errorf("updatedAt = %v, want %v", updatedAt, now)
	}
}

func TestStatusCacheMissOnExpiry(t *testing.T) {
	cache := NewStatusCache(time.Hour)
	dob, _ := models.ParseDateOfBirth("15.06.1990")
	now := time.Now()

	cache.Put("EVN1", dob, "status", now)

	if _, _, hit := cache.Get("EVN1", dob, now.Add(time.Hour+time.Second)); hit {
		t.Error("expected miss past TTL")
	}
	if _, _, hit := cache.Get("EVN1", dob, now.Add(time.Hour)); hit {
		t.Error("expected miss exactly at TTL")
	}
}

func TestStatusCacheMissOnDateOfBirthMismatch(t *testing.T) {
	cache := NewStatusCache(time.Hour)
	dob1, _ := models.ParseDateOfBirth("15.06.1990")
	dob2, _ := models.ParseDateOfBirth("16.06.1990")
	now := time.Now()

	cache.Put("EVN1", dob1, "status", now)

	if _, _, hit := cache.Get("EVN1", dob2, now.Add(time.Second)); hit {
		t.Error("a different date of birth must never see the cached entry")
	}
}

func TestStatusCacheMissOnAbsence(t *testing.T) {
	cache := NewStatusCache(time.Hour)
	dob, _ := models.ParseDateOfBirth("15.06.1990")

	if _, _, hit := cache.Get("EVN404", dob, time.Now()); hit {
		t.Error("expected miss for unknown reference")
	}
}
