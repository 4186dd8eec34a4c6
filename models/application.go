package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxReferenceNumberLength bounds the raw reference string accepted from users.
	MaxReferenceNumberLength = 30
	// MaxLabelLength bounds the user-supplied label for a tracked application.
	MaxLabelLength = 30

	registryFieldSeparator = "|"
	registryFieldCount     = 5
)

var (
	referenceNumberPattern = regexp.MustCompile(`^EVN\d+$`)
	dateOfBirthPattern     = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{4})$`)
)

// TrackedApplication is one user's registered visa application being monitored.
type TrackedApplication struct {
	OwnerID         int64
	ReferenceNumber string
	DateOfBirth     time.Time
	Label           string
	AddedAt         time.Time
}

// ValidReferenceNumber reports whether the input is an acceptable BLS
// reference number: EVN followed by digits, shorter than 30 characters.
func ValidReferenceNumber(input string) bool {
	if len(input) >= MaxReferenceNumberLength {
		return false
	}
	return referenceNumberPattern.MatchString(input)
}

// ParseDateOfBirth parses a DD.MM.YYYY date and normalizes it to local noon,
// so that later epoch comparisons do not drift across timezone boundaries.
// Calendar validity is enforced: 31.02.1990 is rejected.
func ParseDateOfBirth(input string) (time.Time, bool) {
	match := dateOfBirthPattern.FindStringSubmatch(input)
	if match == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])

	parsed := time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.Local)
	if parsed.Day() != day || parsed.Month() != time.Month(month) || parsed.Year() != year {
		return time.Time{}, false
	}
	return parsed, true
}

// SanitizeLabel flattens newlines to spaces and strips the registry field
// separator so a label can never corrupt the persisted line format.
func SanitizeLabel(label string) string {
	label = strings.ReplaceAll(label, "\r\n", " ")
	label = strings.ReplaceAll(label, "\n", " ")
	label = strings.ReplaceAll(label, "\r", " ")
	label = strings.ReplaceAll(label, registryFieldSeparator, " ")
	return strings.TrimSpace(label)
}

// ValidLabel reports whether a sanitized label fits the length bound. The
// bound is in characters, not bytes, so Cyrillic labels get the full 30.
// Empty labels are allowed; the reference number is displayed instead.
func ValidLabel(label string) bool {
	return utf8.RuneCountInString(label) <= MaxLabelLength
}

// DisplayName returns the label if present, falling back to the reference number.
func (a *TrackedApplication) DisplayName() string {
	if a.Label != "" {
		return a.Label
	}
	return a.ReferenceNumber
}

// FormatRegistryLine serializes a tracked application to the registry record
// format: ownerId|referenceNumber|addedAtEpochMillis|dateOfBirthEpochMillis|label.
func FormatRegistryLine(app TrackedApplication) string {
	return fmt.Sprintf("%d%s%s%s%d%s%d%s%s",
		app.OwnerID, registryFieldSeparator,
		app.ReferenceNumber, registryFieldSeparator,
		app.AddedAt.UnixMilli(), registryFieldSeparator,
		app.DateOfBirth.UnixMilli(), registryFieldSeparator,
		SanitizeLabel(app.Label),
	)
}

// ParseRegistryLine parses one registry record line. The label field is the
// remainder of the line, so it may contain anything except the separator.
func ParseRegistryLine(line string) (TrackedApplication, error) {
	parts := strings.SplitN(line, registryFieldSeparator, registryFieldCount)
	if len(parts) != registryFieldCount {
		return TrackedApplication{}, fmt.Errorf("expected %d fields, got %d", registryFieldCount, len(parts))
	}

	ownerID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return TrackedApplication{}, fmt.Errorf("invalid owner id %q: %w", parts[0], err)
	}
	referenceNumber := parts[1]
	if referenceNumber == "" {
		return TrackedApplication{}, fmt.Errorf("empty reference number")
	}
	addedAtMillis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return TrackedApplication{}, fmt.Errorf("invalid added_at %q: %w", parts[2], err)
	}
	dobMillis, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return TrackedApplication{}, fmt.Errorf("invalid date_of_birth %q: %w", parts[3], err)
	}

	return TrackedApplication{
		OwnerID:         ownerID,
		ReferenceNumber: referenceNumber,
		AddedAt:         time.UnixMilli(addedAtMillis),
		DateOfBirth:     time.UnixMilli(dobMillis),
		Label:           parts[4],
	}, nil
}
