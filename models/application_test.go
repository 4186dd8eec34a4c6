package models

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestValidReferenceNumber(t *testing.T) {
	cases := []struct {
		input string
		valid bool
	}{
		{"EVN12345678", true},
		{"EVN1", true},
		{"evn12345678", false},
		{"ABC123", false},
		{"EVN", false},
		{"EVN12 34", false},
		{"EVN" + strings.Repeat("9", 40), false},
		{"", false},
	}

	for _, tc := range cases {
		if got := ValidReferenceNumber(tc.input); got != tc.valid {
			t.Errorf("ValidReferenceNumber(%q) = %v, want %v", tc.input, got, tc.valid)
		}
	}
}

func TestParseDateOfBirth(t *testing.T) {
	parsed, ok := ParseDateOfBirth("15.06.1990")
	if !ok {
		t.Fatal("expected 15.06.1990 to parse")
	}
	if parsed.Day() != 15 || parsed.Month() != time.June || parsed.Year() != 1990 {
		t.Errorf("parsed wrong date: %v", parsed)
	}
	if parsed.Hour() != 12 {
		t.Errorf("expected noon normalization, got hour %d", parsed.Hour())
	}

	invalid := []string{"31.02.1990", "1990.06.15", "15/06/1990", "00.01.1990", "15.13.1990", "abc"}
	for _, input := range invalid {
		if _, ok := ParseDateOfBirth(input); ok {
			t.Errorf("expected %q to be rejected", input)
		}
	}
}

func TestValidLabel(t *testing.T) {
	cases := []struct {
		label string
		valid bool
	}{
		{"", true},
		{"Ivan", true},
		{"Екатерина Иванова", true},
		{strings.Repeat("я", 30), true},
		{strings.Repeat("я", 31), false},
		{strings.Repeat("a", 31), false},
	}
	for _, tc := range cases {
		if got := ValidLabel(tc.label); got != tc.valid {
			t.Errorf("ValidLabel(%q) = %v, want %v", tc.label, got, tc.valid)
		}
	}
}

func TestSanitizeLabel(t *testing.T) {
	if got := SanitizeLabel("Ivan\nPetrov"); got != "Ivan Petrov" {
		t.Errorf("newline not flattened: %q", got)
	}
	if got := SanitizeLabel("a|b"); got != "a b" {
		t.Errorf("separator not stripped: %q", got)
	}
	if got := SanitizeLabel("  padded  "); got != "padded" {
		t.Errorf("whitespace not trimmed: %q", got)
	}
}

func TestRegistryLineRoundTrip(t *testing.T) {
	dob, _ := ParseDateOfBirth("15.06.1990")
	app := TrackedApplication{
		OwnerID:         42,
		ReferenceNumber: "EVN12345678",
		DateOfBirth:     dob,
		Label:           "Ivan",
		AddedAt:         time.UnixMilli(1700000000000),
	}

	parsed, err := ParseRegistryLine(FormatRegistryLine(app))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if parsed.OwnerID != app.OwnerID ||
		parsed.ReferenceNumber != app.ReferenceNumber ||
		parsed.Label != app.Label ||
		parsed.AddedAt.UnixMilli() != app.AddedAt.UnixMilli() ||
		parsed.DateOfBirth.UnixMilli() != app.DateOfBirth.UnixMilli() {
		t.Errorf("round trip mismatch: %+v != %+v", parsed, app)
	}
}

func TestParseRegistryLineRejectsMalformed(t *testing.T) {
	malformed := []string{
		"",
		"42|EVN123",
		"notanumber|EVN123|1|2|label",
		"42||1|2|label",
		"42|EVN123|notmillis|2|label",
	}
	for _, line := range malformed {
		if _, err := ParseRegistryLine(line); err == nil {
			t.Errorf("expected %q to be rejected", line)
		}
	}
}

func TestRegistryLineRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any valid application survives serialization", prop.ForAll(
		func(ownerID int64, refDigits uint32, label string) bool {
			app := TrackedApplication{
				OwnerID:         ownerID,
				ReferenceNumber: "EVN" + strings.Repeat("7", int(refDigits%20)+1),
				DateOfBirth:     time.UnixMilli(645616800000),
				Label:           SanitizeLabel(label),
				AddedAt:         time.UnixMilli(1700000000000),
			}
			parsed, err := ParseRegistryLine(FormatRegistryLine(app))
			if err != nil {
				return false
			}
			return parsed.OwnerID == app.OwnerID &&
				parsed.ReferenceNumber == app.ReferenceNumber &&
				parsed.Label == app.Label
		},
		gen.Int64(),
		gen.UInt32(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
