package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayeremenko/visa-tracker/models"
)

func testApplication(ownerID int64, reference, label string) models.TrackedApplication {
	dob, _ := models.ParseDateOfBirth("15.06.1990")
	return models.TrackedApplication{
		OwnerID:         ownerID,
		ReferenceNumber: reference,
		DateOfBirth:     dob,
		Label:           label,
		AddedAt:         time.Now(),
	}
}

func TestRegistrySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")

	registry, err := NewRegistry(path, 5)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := registry.Upsert(testApplication(1, "EVN100", "Ivan")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := registry.Upsert(testApplication(2, "EVN200", "")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	registry.Close()

	reloaded, err := NewRegistry(path, 5)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer reloaded.Close()

	app, found := reloaded.Find(1, "EVN100")
	if !found {
		t.Fatal("EVN100 lost across restart")
	}
	if app.Label != "Ivan" {
		t.Errorf("label = %q", app.Label)
	}
	if _, found := reloaded.Find(2, "EVN200"); !found {
		t.Error("EVN200 lost across restart")
	}
}

func TestRegistryToleratesCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")
	content := "1|EVN100|1700000000000|645616800000|Ivan\n" +
		"\n" +
		"garbage line without separators\n" +
		"x|EVN200|1700000000000|645616800000|broken owner\n" +
		"2|EVN300|1700000000000|645616800000|\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	registry, err := NewRegistry(path, 5)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer registry.Close()

	owners, total := registry.CountOwners()
	if owners != 2 || total != 2 {
		t.Errorf("loaded owners=%d total=%d, want 2/2", owners, total)
	}
}

func TestRegistryEnforcesPerOwnerCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")
	registry, err := NewRegistry(path, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer registry.Close()

	references := []string{"EVN1", "EVN2", "EVN3", "EVN4", "EVN5"}
	for _, ref := range references {
		if err := registry.Upsert(testApplication(1, ref, "")); err != nil {
			t.Fatalf("Upsert %s: %v", ref, err)
		}
	}

	if err := registry.Upsert(testApplication(1, "EVN6", "")); err != ErrLimitReached {
		t.Errorf("sixth upsert: got %v, want ErrLimitReached", err)
	}
	if apps := registry.ListFor(1); len(apps) != 5 {
		t.Errorf("rejected upsert mutated the set: %d entries", len(apps))
	}
}

func TestRegistryRejectsDuplicateReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")
	registry, err := NewRegistry(path, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer registry.Close()

	original := testApplication(1, "EVN100", "original")
	if err := registry.Upsert(original); err != nil {
		t.Fatal(err)
	}
	if err := registry.Upsert(testApplication(1, "EVN100", "replacement")); err != ErrAlreadyTracked {
		t.Errorf("duplicate upsert: got %v, want ErrAlreadyTracked", err)
	}

	app, _ := registry.Find(1, "EVN100")
	if app.Label != "original" {
		t.Errorf("duplicate upsert replaced the entry: label = %q", app.Label)
	}

	// Same reference under a different owner is fine.
	if err := registry.Upsert(testApplication(2, "EVN100", "")); err != nil {
		t.Errorf("other owner blocked: %v", err)
	}
}

func TestRegistryRemoveAllFor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")
	registry, err := NewRegistry(path, 5)
	if err != nil {
		t.Fatal(err)
	}

	registry.Upsert(testApplication(1, "EVN1", ""))
	registry.Upsert(testApplication(1, "EVN2", ""))
	registry.Upsert(testApplication(2, "EVN3", ""))

	if removed := registry.RemoveAllFor(1); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	registry.Close()

	reloaded, err := NewRegistry(path, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	owners, total := reloaded.CountOwners()
	if owners != 1 || total != 1 {
		t.Errorf("after drop: owners=%d total=%d, want 1/1", owners, total)
	}
}
