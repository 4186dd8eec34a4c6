package services

import (
	"context"
	"strings"
	"time"
)

// StatusResult is a resolved provider answer. OK distinguishes an actual
// status from an upstream-reported error; both carry user-facing text.
// Error strings are opaque human-readable text and must not be parsed.
type StatusResult struct {
	OK     bool
	Status string
	Error  string
}

// StatusProvider resolves a tracked identifier to its current status.
// Implementations own all upstream interaction; a returned error means the
// provider itself failed (network, captcha, parsing), not the application.
type StatusProvider interface {
	FetchStatus(ctx context.Context, referenceNumber string, dateOfBirth time.Time) (StatusResult, error)
}

// Fixed dictionaries mapping known upstream phrases to user-facing Russian
// text. Matching is case- and whitespace-insensitive with one leading letter
// stripped, because the portal renders some statuses with a decorative first
// letter. Unrecognized phrases pass through verbatim. This mapping is part of
// the observable contract.
var statusTranslations = map[string]string{
	"Application received, payment pending": "Заявление получено, ожидается оплата",
	"Processing at mission":                 "Рассмотрение в консульстве",
	"Acceda done, Ready for Outscan to Hub": "Готовится к отправке в Москву",
	"Acceda done":                           "Готовится к отправке в Москву",
	"Ready for Outscan to Hub":              "Готовится к отправке в Москву",
	"Intransit from Spoke to HUB":           "В пути из Еревана в Москву",
	"Ready for Outscan to Mission":          "Готовится к отправке в консульство",
	"In transit from BLS to Mission":        "В пути в консульство",
	"Passport ready to dispatch":            "Рассмотрено; в пути из Москвы в Ереван",
	"Dispatched via courie":                 "Готово к получению в Ереване",
	"Delivered at Counter":                  "Готово к получению в Ереван",
}

var errorTranslations = map[string]string{
	"Invalid Captch":               "Неверно введена капча",
	"Invalid Captcha":              "Неверно введена капча",
	"Invalid application":          "Неверно указан номер заявления",
	"Date of birth is not correct": "Неверно указана дата рождения",
}

var (
	normalizedStatusTranslations = normalizeTranslationKeys(statusTranslations)
	normalizedErrorTranslations  = normalizeTranslationKeys(errorTranslations)
)

func normalizeTranslationKeys(source map[string]string) map[string]string {
	normalized := make(map[string]string, len(source))
	for key, value := range source {
		normalized[normalizePhrase(key)] = value
	}
	return normalized
}

// normalizePhrase lowercases, collapses whitespace and strips one leading
// letter so cosmetic variations of the same upstream phrase compare equal.
func normalizePhrase(phrase string) string {
	phrase = strings.ToLower(strings.Join(strings.Fields(phrase), " "))
	if len(phrase) > 0 && phrase[0] >= 'a' && phrase[0] <= 'z' {
		phrase = phrase[1:]
	}
	return phrase
}

// TranslateStatus maps a known upstream status phrase to user-facing text;
// unknown phrases are returned verbatim.
func TranslateStatus(rawStatus string) string {
	if translated, found := normalizedStatusTranslations[normalizePhrase(rawStatus)]; found {
		return translated
	}
	return rawStatus
}

// TranslateError maps a known upstream error phrase to user-facing text.
// Known errors are prefixed "Ошибка:", unknown ones "Неизвестная ошибка:".
func TranslateError(rawError string) string {
	if translated, found := normalizedErrorTranslations[normalizePhrase(rawError)]; found {
		return "Ошибка: " + translated
	}
	return "Неизвестная ошибка: " + rawError
}
